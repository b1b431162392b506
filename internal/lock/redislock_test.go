package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockSerialises(t *testing.T) {
	_, client := newClient(t)
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "checkout:session:lock:s1", time.Second, func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestWithLockReleasesOnlyOwnToken(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client}

	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		// simulate expiry and takeover by another holder
		require.NoError(t, mr.Set("k", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	v, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)
}

func TestWithLockMaxWait(t *testing.T) {
	mr, client := newClient(t)
	require.NoError(t, mr.Set("busy", "other"))

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	err := locker.WithLock(context.Background(), "busy", time.Second, func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
}
