package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, 50*time.Millisecond)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")

	time.Sleep(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "first probe after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.ProviderBreakerState.Reset()
	resilience.ProviderBreakerTransitions.Reset()

	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("paypal")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.ProviderBreakerState.WithLabelValues("paypal")))

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 200*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.ProviderBreakerState.WithLabelValues("paypal")))

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.ProviderBreakerTransitions.WithLabelValues("paypal", "closed", "open"))+
		testutil.ToFloat64(resilience.ProviderBreakerTransitions.WithLabelValues("paypal", "half_open", "open")))
}

func TestBreakerHonoursMinRequests(t *testing.T) {
	breaker := resilience.NewBreaker(4, 0.6, time.Minute)
	ctx := context.Background()

	report := func(ok bool) {
		require.True(t, breaker.Allow(ctx))
		breaker.Report(ctx, ok)
	}
	report(false)
	report(false)
	report(true)
	require.Equal(t, resilience.Closed, breaker.State(), "three calls are below the minimum")

	report(true)
	require.Equal(t, resilience.Closed, breaker.State(), "2 of 4 failed")

	report(false)
	require.Equal(t, resilience.Open, breaker.State(), "3 of 5 reaches the ratio")
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Millisecond)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	require.Eventually(t, func() bool { return breaker.Allow(ctx) }, 200*time.Millisecond, 2*time.Millisecond)
	require.Equal(t, resilience.HalfOpen, breaker.State())
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
	require.Equal(t, "half_open", resilience.HalfOpen.String())
}
