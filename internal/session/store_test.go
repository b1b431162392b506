package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
)

func newStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewStore(client, time.Hour)
}

func TestGetMissingReturnsEmpty(t *testing.T) {
	_, s := newStore(t)
	c, err := s.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", c.ID)
	require.True(t, c.Cart.Empty())

	_, err = s.Get(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestUpdatePersistsWithTTL(t *testing.T) {
	mr, s := newStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "s1", func(c *Context) error {
		if err := c.AddItem(cart.Item{ProductID: "a", Price: decimal.RequireFromString("1.00")}); err != nil {
			return err
		}
		if err := c.AddItem(cart.Item{ProductID: "b", Price: decimal.RequireFromString("2.00")}); err != nil {
			return err
		}
		if err := c.AddItem(cart.Item{ProductID: "c", Price: decimal.RequireFromString("3.00")}); err != nil {
			return err
		}
		c.PutBilling("paypal", billing.Info{FirstName: "Ada"})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL(keyPrefix+"s1"))

	_, err = s.Update(ctx, "s1", func(c *Context) error {
		c.RemoveIndices(0, 2)
		return c.UpdateQuantity(0, 3)
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Cart, 1)
	require.Equal(t, "b", got.Cart[0].ProductID)
	require.Equal(t, 3, got.Cart[0].Quantity)
	info, ok := got.PendingBilling("paypal")
	require.True(t, ok)
	require.Equal(t, "Ada", info.FirstName)
}

func TestUpdateFailureWritesNothing(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := s.Update(ctx, "s2", func(c *Context) error {
		c.PutBilling("stripe", billing.Info{Email: "x@example.com"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "s2")
	require.NoError(t, err)
	require.Empty(t, got.Billing)
}

func TestClearCheckoutEmptiesCartAndAllSlots(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.Update(ctx, "s3", func(c *Context) error {
		c.PutBilling("paypal", billing.Info{FirstName: "A"})
		c.PutBilling("vnpay", billing.Info{FirstName: "B"})
		if err := c.AddItem(cart.Item{ProductID: "a", Price: decimal.NewFromInt(1)}); err != nil {
			return err
		}
		c.PutSnapshot("paypal", c.Cart)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.ClearCheckout(ctx, "s3"))

	got, err := s.Get(ctx, "s3")
	require.NoError(t, err)
	require.Empty(t, got.Cart)
	require.Empty(t, got.Billing)
	_, ok := got.PendingSnapshot("paypal")
	require.False(t, ok)
}

func TestSnapshotIsDetachedFromLiveCart(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.Update(ctx, "s4", func(c *Context) error {
		if err := c.AddItem(cart.Item{ProductID: "a", Price: decimal.RequireFromString("9.99"), Quantity: 2}); err != nil {
			return err
		}
		c.PutSnapshot("stripe", c.Cart)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, "s4", func(c *Context) error {
		if err := c.UpdateQuantity(0, 5); err != nil {
			return err
		}
		return c.AddItem(cart.Item{ProductID: "b", Price: decimal.NewFromInt(50)})
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "s4")
	require.NoError(t, err)
	require.Len(t, got.Cart, 2)
	snap, ok := got.PendingSnapshot("stripe")
	require.True(t, ok)
	require.Len(t, snap, 1)
	require.Equal(t, 2, snap[0].Quantity)
	require.Equal(t, "19.98", snap.Total().StringFixed(2))

	_, err = s.Update(ctx, "s4", func(c *Context) error {
		c.PutSnapshot("stripe", nil)
		return nil
	})
	require.NoError(t, err)
	got, err = s.Get(ctx, "s4")
	require.NoError(t, err)
	_, ok = got.PendingSnapshot("stripe")
	require.False(t, ok)
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "s4", func(c *Context) error {
				return c.AddItem(cart.Item{ProductID: "p", Price: decimal.NewFromInt(1)})
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "s4")
	require.NoError(t, err)
	require.Len(t, got.Cart, 10)
}
