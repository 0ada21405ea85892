package token

import (
	"net/http"
	"strings"
)

// FromRequest extracts the bearer credential from the Authorization header,
// falling back to the "token" query parameter (browsers cannot set headers on
// WebSocket upgrades).
func FromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
