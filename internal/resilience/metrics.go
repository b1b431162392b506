package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderBreakerState is the current State per provider.
	ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_breaker_state",
		Help: "Outbound breaker state per provider: 0=closed, 1=open, 2=half-open.",
	}, []string{"provider"})

	ProviderBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_breaker_transition_total",
		Help: "Outbound breaker state transitions.",
	}, []string{"provider", "from", "to"})

	// ProviderCalls times single-attempt outbound calls. Outcome is ok, error
	// or rejected (breaker open, no request sent).
	ProviderCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Latency of outbound payment provider and webhook calls.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "outcome"})
)
