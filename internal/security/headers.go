package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

// Headers sets the response headers every checkout response carries.
// Responses hold payment state, so none of them may be cached or framed.
type Headers struct {
	// HSTSMaxAge enables Strict-Transport-Security on HTTPS requests when
	// positive. TLS terminated at a proxy is recognised by X-Forwarded-Proto.
	HSTSMaxAge        time.Duration
	IncludeSubdomains bool
}

var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), payment=(self)"},
	{"Cache-Control", "no-store"},
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(h.HSTSMaxAge/time.Second), 10)
		if h.IncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		for _, kv := range baseHeaders {
			out.Set(kv[0], kv[1])
		}
		if hsts != "" && isHTTPS(r) {
			out.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// CORS returns the go-chi/cors handler for the storefront origins. A "*"
// entry disables credentials, as browsers require.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	wildcard := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		allowed = append(allowed, o)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
