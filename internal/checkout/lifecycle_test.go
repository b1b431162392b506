package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
)

func outcome(id, amount string) payment.Outcome {
	return payment.Outcome{
		Method:        payment.MethodPayPal,
		TransactionID: id,
		Amount:        decimal.RequireFromString(amount),
		Raw:           []byte(`{}`),
	}
}

func TestFinalizeCreatesOrderAndClearsContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, payment.MethodPayPal, fullBilling(), item("a", "9.99", 2))
	snap := f.context(t)

	res, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-1", "19.98"), snap.Cart, fullBilling())
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, "19.98", res.Order.Total.StringFixed(2))
	require.Equal(t, order.StatusConfirmed, res.Order.OrderStatus)
	require.True(t, res.Order.PaymentStatus)
	require.Equal(t, "Lovelace", res.Order.Billing.LastName)

	after := f.context(t)
	require.Empty(t, after.Cart)
	require.Empty(t, after.Billing)
	require.Equal(t, []string{events.TopicOrderConfirmed}, f.events.seen())
}

func TestFinalizeDuplicateReturnsExistingAndKeepsContext(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-2", "5.00"), nil, fullBilling())
	require.NoError(t, err)

	f.seed(t, payment.MethodPayPal, fullBilling(), item("b", "1.00", 1))
	again, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-2", "5.00"), nil, fullBilling())
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Order.ID, again.Order.ID)
	require.Len(t, f.context(t).Cart, 1)
	_, ok := f.context(t).PendingBilling("paypal")
	require.True(t, ok)
}

func TestFinalizeDuplicateSettlesSessionLeftBehind(t *testing.T) {
	f := newFixture(t)
	f.seed(t, payment.MethodPayPal, fullBilling(), item("a", "4.00", 2))
	sc, err := f.sessions.Update(context.Background(), "sess-1", func(c *session.Context) error {
		c.PutSnapshot("paypal", c.Cart)
		return nil
	})
	require.NoError(t, err)
	snap, ok := sc.PendingSnapshot("paypal")
	require.True(t, ok)

	// an order exists for the payment but the session was never cleared
	_, err = f.orders.Create(context.Background(), order.Order{
		ID:            "ord-left",
		Items:         snap,
		Total:         snap.Total(),
		PaymentMethod: "paypal",
		PaymentID:     "PP-6",
		PaymentStatus: true,
	})
	require.NoError(t, err)

	res, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-6", "8.00"), snap, fullBilling())
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, "ord-left", res.Order.ID)

	c := f.context(t)
	require.Empty(t, c.Cart)
	require.Empty(t, c.Billing)
}

func TestFinalizeConcurrentSingleOrder(t *testing.T) {
	f := newFixture(t)
	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-RACE", "3.00"), nil, fullBilling())
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Order.ID] = struct{}{}
			if !res.Duplicate {
				created++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
	require.Len(t, ids, 1)
}

func TestFinalizeEmptyCartUsesProviderAmount(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-3", "42.10"), nil, fullBilling())
	require.NoError(t, err)
	require.Equal(t, "42.10", res.Order.Total.StringFixed(2))
	require.Empty(t, res.Order.Items)
}

func TestFinalizeMismatchKeepsCartTotalAndAuthorizedAmount(t *testing.T) {
	f := newFixture(t)
	snap := cart.Cart{item("a", "10.00", 1)}
	res, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-4", "9.00"), snap, fullBilling())
	require.NoError(t, err)
	require.Equal(t, "10.00", res.Order.Total.StringFixed(2))
	require.Equal(t, "9.00", res.Order.AuthorizedAmount.StringFixed(2))
}

func TestFinalizeStoreDownIsWriteFailedAfterPayment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, payment.MethodPayPal, fullBilling(), item("a", "2.50", 2))
	f.orders.down.Store(true)

	_, err := f.svc.Lifecycle.Finalize(context.Background(), "sess-1", outcome("PP-5", "5.00"), f.context(t).Cart, fullBilling())
	require.True(t, IsOrderWriteFailed(err))
	require.Contains(t, err.Error(), "PP-5")

	c := f.context(t)
	require.Len(t, c.Cart, 1)
	_, ok := c.PendingBilling("paypal")
	require.True(t, ok)
	require.Equal(t, []string{events.TopicOrderWriteFailed}, f.events.seen())
}
