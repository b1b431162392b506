package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// DefaultCookieName is the cookie carrying the checkout session id.
const DefaultCookieName = "toko_checkout"

// Cookie issues and reads the session cookie.
type Cookie struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Middleware ensures every request carries a session id and stores it on
// the request context.
func (c Cookie) Middleware(next http.Handler) http.Handler {
	name := c.Name
	if name == "" {
		name = DefaultCookieName
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if ck, err := r.Cookie(name); err == nil {
			if _, perr := uuid.Parse(ck.Value); perr == nil {
				id = ck.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   c.Secure,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(c.MaxAge.Seconds()),
			})
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

// WithID stores the session id on ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the session id stored on ctx.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
