// Package ratelimit throttles the checkout endpoints per session or client.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Allower decides whether one more request for key fits the limit.
type Allower interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// ParseRate reads a rate in "<limit>-<period>" form, e.g. "30-M" or "5-S".
func ParseRate(formatted string) (limiter.Rate, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return limiter.Rate{}, fmt.Errorf("rate %q: %w", formatted, err)
	}
	return rate, nil
}

// Fixed is a fixed-window limiter backed by the ulule Redis store.
type Fixed struct {
	l *limiter.Limiter
}

// NewFixed builds a fixed-window limiter for a formatted rate.
func NewFixed(client redis.UniversalClient, prefix, formatted string) (*Fixed, error) {
	rate, err := ParseRate(formatted)
	if err != nil {
		return nil, err
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return &Fixed{l: limiter.New(store, rate)}, nil
}

func (f *Fixed) Allow(ctx context.Context, key string) (Decision, error) {
	lc, err := f.l.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lc.Reached,
		Limit:     int(lc.Limit),
		Remaining: int(lc.Remaining),
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}
