package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutInitiateTotal counts checkout initiation outcomes.
	CheckoutInitiateTotal *prometheus.CounterVec
	// CheckoutConfirmTotal counts provider callback outcomes.
	CheckoutConfirmTotal *prometheus.CounterVec
	// OrderFinalizeTotal counts order persistence outcomes after a payment.
	OrderFinalizeTotal *prometheus.CounterVec
	// AmountMismatchTotal counts payments whose provider amount differs from the cart total.
	AmountMismatchTotal *prometheus.CounterVec
	// CheckoutConfirmSeconds records callback handling latency.
	CheckoutConfirmSeconds *prometheus.HistogramVec
)

// MustRegisterDomainMetrics creates the checkout collectors once per process.
// Later calls are no-ops, whatever registerer they pass.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			}, labels))
		}
		CheckoutInitiateTotal = counter("checkout_initiate_total", "Checkout initiation outcomes.", "method", "result")
		CheckoutConfirmTotal = counter("checkout_confirm_total", "Payment confirmation outcomes.", "method", "result")
		OrderFinalizeTotal = counter("order_finalize_total", "Order finalization outcomes.", "method", "result")
		AmountMismatchTotal = counter("checkout_amount_mismatch_total", "Payments whose provider amount differs from the cart total.", "method")
		CheckoutConfirmSeconds = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_confirm_duration_seconds",
			Help:      "Payment confirmation latency, provider call included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}))
	})
}

// Inc increments vec when it has been registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// Observe records v on vec when it has been registered.
func Observe(vec *prometheus.HistogramVec, v float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(v)
}
