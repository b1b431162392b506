package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func instrumentedRouter(m *HTTPMetrics, logger RequestLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(Tracing)
	r.Use(m.Middleware)
	r.Use(logger.Middleware)
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/paypal/success", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/checkout?paypal_status=success", http.StatusFound)
	})
	return r
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics("checkout", reg)
	h := instrumentedRouter(m, RequestLogger{Logger: newLogger(&bytes.Buffer{}, "json", "info")})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id, nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/paypal/success", nil))
	require.Equal(t, http.StatusFound, rr.Code)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/api/v1/orders/{id}", "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/paypal/success", "302")))
	require.Equal(t, 2, testutil.CollectAndCount(m.Duration))
	require.Zero(t, testutil.ToFloat64(m.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewHTTPMetrics("checkout", reg)
	second := NewHTTPMetrics("checkout", reg)
	require.Same(t, first.Requests, second.Requests)
	require.Same(t, first.Duration, second.Duration)
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	h := instrumentedRouter(nil, RequestLogger{Logger: newLogger(&buf, "json", "debug")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "http_request", line["message"])
	require.Equal(t, "/api/v1/orders/{id}", line["route"])
	require.Equal(t, float64(404), line["status"])
	require.Equal(t, "203.0.113.7", line["client_ip"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "chatty")
	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestDomainMetricsHelpersTolerateNil(t *testing.T) {
	Inc(nil, "paypal", "ok")
	Observe(nil, 1, "paypal")

	MustRegisterDomainMetrics("checkout_test", prometheus.NewRegistry())
	before := testutil.ToFloat64(AmountMismatchTotal.WithLabelValues("googlepay"))
	Inc(AmountMismatchTotal, "googlepay")
	require.Equal(t, before+1, testutil.ToFloat64(AmountMismatchTotal.WithLabelValues("googlepay")))
}
