package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem provides an Idempotency-Key middleware backed by Redis. Scope, when
// set, namespaces keys (for example by checkout session) so two browsers
// cannot collide on the same key.
type Idem struct {
	R     redis.UniversalClient
	TTL   time.Duration
	Scope func(*http.Request) string
}

func hashKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints. A replayed
// key gets 409 with the status of the first attempt, or "pending" while it
// is still running. First attempts that fail with 5xx release the key.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		scope := ""
		if i.Scope != nil {
			scope = i.Scope(r)
		}
		ctx := r.Context()
		key := hashKey(scope, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
			return
		}
		if !ok {
			first, _ := i.R.Get(ctx, key).Result()
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", map[string]string{"firstAttempt": first})
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			// background ctx so a disconnect still records the result
			bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(bg, key).Err()
				return
			}
			_ = i.R.Set(bg, key, strconv.Itoa(rec.status), i.ttl()).Err()
		}()
		next.ServeHTTP(rec, r)
	})
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
