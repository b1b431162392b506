package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) Idem {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute, Scope: func(r *http.Request) string { return r.Header.Get("X-Session") }}
}

func TestIdemReplayReturnsConflict(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/complete", nil)
		req.Header.Set("Idempotency-Key", "k1")
		req.Header.Set("X-Session", session)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusCreated, send("a").Code)
	replay := send("a")
	require.Equal(t, http.StatusConflict, replay.Code)
	require.True(t, strings.Contains(replay.Body.String(), `"firstAttempt":"201"`))
	require.Equal(t, http.StatusCreated, send("b").Code)
	require.Equal(t, 2, calls)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem := newIdem(t)
	status := http.StatusBadGateway
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/orders/complete", nil)
		r.Header.Set("Idempotency-Key", "k2")
		return r
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req())
	require.Equal(t, http.StatusBadGateway, rr.Code)

	status = http.StatusOK
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req())
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIdemWithoutHeaderPassesThrough(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}
	require.Equal(t, 2, calls)
}
