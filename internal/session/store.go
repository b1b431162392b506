package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

// ErrInvalidID is returned for empty session ids.
var ErrInvalidID = errors.New("session: invalid id")

const (
	keyPrefix  = "checkout:session:"
	lockPrefix = "checkout:session:lock:"
)

// Store persists checkout contexts in Redis as JSON documents.
type Store struct {
	client redis.UniversalClient
	locker lock.Locker
	ttl    time.Duration
	now    func() time.Time
}

// NewStore builds a Store. Contexts expire ttl after their last write.
func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{
		client: client,
		locker: lock.Locker{R: client, RetryBackoff: 20 * time.Millisecond, MaxWait: 5 * time.Second},
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get loads the context for id. A missing context is returned empty.
func (s *Store) Get(ctx context.Context, id string) (Context, error) {
	if id == "" {
		return Context{}, ErrInvalidID
	}
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Context{ID: id}, nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("load session %s: %w", id, err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	c.ID = id
	return c, nil
}

// Update applies fn to the context under the session lock and writes the
// result back in a single SET. If fn fails nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(*Context) error) (Context, error) {
	if id == "" {
		return Context{}, ErrInvalidID
	}
	var out Context
	err := s.locker.WithLock(ctx, lockPrefix+id, 10*time.Second, func(ctx context.Context) error {
		c, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		now := s.now().UTC()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, keyPrefix+id, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("save session %s: %w", id, err)
		}
		out = c
		return nil
	})
	return out, err
}

// ClearCheckout atomically empties the cart and every billing slot.
func (s *Store) ClearCheckout(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, func(c *Context) error {
		c.ClearCheckout()
		return nil
	})
	return err
}

// Ping checks Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
