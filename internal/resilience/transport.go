package resilience

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport guards an http.RoundTripper with a breaker. It performs exactly
// one attempt: retrying a capture or session creation could charge twice.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
	Target  string
}

// RoundTrip implements http.RoundTripper. 5xx responses and transport errors
// count as failures; 4xx responses are the caller's business.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.Breaker != nil && !t.Breaker.Allow(ctx) {
		ProviderCalls.WithLabelValues(t.Target, "rejected").Observe(0)
		return nil, ErrOpenCircuit
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	outcome := "ok"
	ok := err == nil && resp.StatusCode < 500
	if !ok {
		outcome = "error"
	}
	ProviderCalls.WithLabelValues(t.Target, outcome).Observe(time.Since(start).Seconds())
	if t.Breaker != nil {
		t.Breaker.Report(ctx, ok)
	}
	return resp, err
}

// NewHTTPClient returns a single-attempt client for one provider with a
// per-call timeout, a breaker and outbound tracing.
func NewHTTPClient(target string, timeout time.Duration, breaker *Breaker) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if breaker != nil {
		breaker.WithTarget(target)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Base:    otelhttp.NewTransport(http.DefaultTransport),
			Breaker: breaker,
			Target:  target,
		},
	}
}
