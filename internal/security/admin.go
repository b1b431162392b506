package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// AdminToken guards back-office routes with a static bearer token. An empty
// Token disables the routes entirely.
type AdminToken struct {
	Token string
}

func (a AdminToken) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Token == "" {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
			return
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
			return
		}
		if !constantTimeEqual(strings.TrimSpace(auth[7:]), a.Token) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
