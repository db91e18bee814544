package logger

import (
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	// keep the TLD only
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		for i := 0; i < len(labels)-1; i++ {
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		domain = strings.Join(labels, ".")
	}

	return local + "@" + domain
}

// SanitizePath masks path segments that hold an email address, such as the
// account in /admin/lockouts/{email}
func SanitizePath(path string) string {
	segments := strings.Split(path, "/")
	changed := false
	for i, segment := range segments {
		decoded, err := url.PathUnescape(segment)
		if err != nil || !strings.Contains(decoded, "@") {
			continue
		}
		segments[i] = SanitizedEmail(decoded)
		changed = true
	}
	if !changed {
		return path
	}
	return strings.Join(segments, "/")
}

var sensitiveQueryParams = []string{
	"password",
	"token",
	"secret",
	"email",
	"captcha",
	"user_agent",
	"auth",
}

// SanitizeQueryString reports whether the query string names a sensitive
// parameter, in which case the whole query should be redacted
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
