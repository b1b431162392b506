package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// ErrStoreUnavailable indicates the store has no database handle.
var ErrStoreUnavailable = errors.New("order: store unavailable")

// NewPGStore returns a Store backed by Postgres.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// Create inserts o. A conflicting (payment_method, payment_id) yields
// ErrDuplicate and the order recorded first.
func (s *pgStore) Create(ctx context.Context, o Order) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	o, err := prepareNew(o)
	if err != nil {
		return Order{}, err
	}
	items, err := encodeItems(o.Items)
	if err != nil {
		return Order{}, err
	}
	err = s.pool.QueryRow(ctx, `INSERT INTO orders (
    id, first_name, last_name, email, address, country, city, state, zip_code,
    items, total_minor, authorized_minor, currency, payment_method, payment_id,
    payment_status, order_status, raw_payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
ON CONFLICT (payment_method, payment_id) DO NOTHING
RETURNING created_at, updated_at`,
		o.ID, o.Billing.FirstName, o.Billing.LastName, o.Billing.Email, o.Billing.Address,
		o.Billing.Country, o.Billing.City, o.Billing.State, o.Billing.ZipCode,
		items, money.ToMinor(o.Total), money.ToMinor(o.AuthorizedAmount), o.Currency, o.PaymentMethod, o.PaymentID,
		o.PaymentStatus, string(o.OrderStatus), rawOrNil(o.RawPayload), o.CreatedAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		existing, findErr := s.FindByPayment(ctx, o.PaymentMethod, o.PaymentID)
		if findErr != nil {
			return Order{}, fmt.Errorf("load existing order: %w", findErr)
		}
		return existing, ErrDuplicate
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+selectColumns+`, created_at, updated_at FROM orders WHERE id = $1`, id))
}

func (s *pgStore) FindByPayment(ctx context.Context, method, paymentID string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+selectColumns+`, created_at, updated_at FROM orders
WHERE payment_method = $1 AND payment_id = $2`, method, paymentID))
}

// UpdateStatus moves an order forward under a row lock.
func (s *pgStore) UpdateStatus(ctx context.Context, id string, next Status) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	if err := tx.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if !Status(current).CanTransition(next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET order_status = $2, updated_at = now() WHERE id = $1`, id, string(next)); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return s.Get(ctx, id)
}

func (s *pgStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	return s.pool.Ping(ctx)
}

func (s *pgStore) scan(r pgx.Row) (Order, error) {
	var (
		o   Order
		img row
	)
	dest := append(img.dest(&o), &o.CreatedAt, &o.UpdatedAt)
	if err := r.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if err := img.hydrate(&o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
