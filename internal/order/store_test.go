package order

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleOrder(paymentID string) Order {
	return Order{
		ID:               uuid.NewString(),
		Billing:          billing.Info{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Items:            cart.Cart{{ProductID: "p1", Name: "Mug", Price: decimal.RequireFromString("9.99"), Quantity: 2}},
		Total:            decimal.RequireFromString("19.98"),
		AuthorizedAmount: decimal.RequireFromString("19.98"),
		PaymentMethod:    "stripe",
		PaymentID:        paymentID,
		PaymentStatus:    true,
		OrderStatus:      StatusConfirmed,
		RawPayload:       json.RawMessage(`{"id":"cs_1"}`),
	}
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	created, err := s.Create(ctx, sampleOrder("pi_1"))
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "19.98", got.Total.StringFixed(2))
	require.Equal(t, StatusConfirmed, got.OrderStatus)
	require.True(t, got.PaymentStatus)
	require.Len(t, got.Items, 1)
	require.Equal(t, 2, got.Items[0].Quantity)
	require.Equal(t, "Lovelace", got.Billing.LastName)
	require.JSONEq(t, `{"id":"cs_1"}`, string(got.RawPayload))

	_, err = s.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteCreateDuplicatePaymentReturnsExisting(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	first, err := s.Create(ctx, sampleOrder("pi_dup"))
	require.NoError(t, err)

	existing, err := s.Create(ctx, sampleOrder("pi_dup"))
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, first.ID, existing.ID)

	other := sampleOrder("pi_dup")
	other.PaymentMethod = "paypal"
	_, err = s.Create(ctx, other)
	require.NoError(t, err, "uniqueness is per payment method")
}

func TestSQLiteConcurrentCreateSingleWinner(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := s.Create(ctx, sampleOrder("pi_race"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else {
				require.ErrorIs(t, err, ErrDuplicate)
			}
			ids[o.ID] = struct{}{}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
	require.Len(t, ids, 1)
}

func TestSQLiteUpdateStatus(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	o, err := s.Create(ctx, sampleOrder("pi_status"))
	require.NoError(t, err)

	updated, err := s.UpdateStatus(ctx, o.ID, StatusShipped)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, updated.OrderStatus)

	_, err = s.UpdateStatus(ctx, o.ID, StatusProcessing)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.UpdateStatus(ctx, o.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.UpdateStatus(ctx, uuid.NewString(), StatusShipped)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newSQLite(t)
	o := sampleOrder("")
	_, err := s.Create(context.Background(), o)
	require.Error(t, err)

	o = sampleOrder("pi_neg")
	o.Total = decimal.NewFromInt(-1)
	_, err = s.Create(context.Background(), o)
	require.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusConfirmed.CanTransition(StatusProcessing))
	require.True(t, StatusConfirmed.CanTransition(StatusCancelled))
	require.False(t, StatusDelivered.CanTransition(StatusCancelled))
	require.False(t, StatusCancelled.CanTransition(StatusDelivered))
	require.False(t, StatusConfirmed.CanTransition(StatusConfirmed))
	require.False(t, StatusConfirmed.CanTransition(Status("lost")))
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/toko", migrateURL("postgres://u:p@db:5432/toko"))
	require.Equal(t, "pgx5://db/toko", migrateURL("postgresql://db/toko"))
}
