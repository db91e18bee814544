package models

// RiskAssessment is computed on demand and never persisted
type RiskAssessment struct {
	IsSuspicious bool     `json:"is_suspicious"`
	IsHuman      bool     `json:"is_human"`
	Score        int      `json:"score"`
	Reasons      []string `json:"reasons"`
}

// CaptchaResult is the CAPTCHA oracle verdict for a single token
type CaptchaResult struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}
