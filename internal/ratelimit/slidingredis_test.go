package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
)

func TestSlidingAllowWindow(t *testing.T) {
	mr, client := newRedis(t)
	rate, err := ParseRate("2-S")
	require.NoError(t, err)
	rate.Period = 2 * time.Second
	l := Sliding{Client: client, Prefix: "test:", Rate: rate}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "key")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 2-(i+1), d.Remaining)
	}

	d, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)

	mr.FastForward(rate.Period)

	d, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestSlidingWithoutClientAllows(t *testing.T) {
	d, err := Sliding{}.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestSlidingRejectedRequestsAreNotRecorded(t *testing.T) {
	_, client := newRedis(t)
	l := Sliding{Client: client, Prefix: "test:", Rate: limiter.Rate{Period: time.Minute, Limit: 1}}
	ctx := context.Background()

	first, err := l.Allow(ctx, "ip:1")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "ip:1")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.WithinDuration(t, first.Reset, d.Reset, time.Millisecond)
	}
	n, err := client.ZCard(ctx, "test:ip:1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	other, err := l.Allow(ctx, "ip:2")
	require.NoError(t, err)
	require.True(t, other.Allowed)
}
