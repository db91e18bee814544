package middleware

import (
	"net/http"

	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// CaptchaTokenHeader carries the client's CAPTCHA response token
const CaptchaTokenHeader = "X-Captcha-Token"

// RequireHuman rejects requests the risk service does not judge human.
// The response never says which factor failed.
func RequireHuman(risk *services.RiskService, ips *pkghttp.IPExtractor) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(CaptchaTokenHeader)
			if _, err := risk.Gate(r.Context(), token, r.UserAgent(), ips.ClientIP(r)); err != nil {
				pkghttp.WriteForbidden(w, "verification failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
