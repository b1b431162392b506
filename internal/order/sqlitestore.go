package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/noah-isme/toko-checkout/internal/money"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    first_name       TEXT NOT NULL DEFAULT '',
    last_name        TEXT NOT NULL DEFAULT '',
    email            TEXT NOT NULL DEFAULT '',
    address          TEXT NOT NULL DEFAULT '',
    country          TEXT NOT NULL DEFAULT '',
    city             TEXT NOT NULL DEFAULT '',
    state            TEXT NOT NULL DEFAULT '',
    zip_code         TEXT NOT NULL DEFAULT '',
    items            BLOB NOT NULL,
    total_minor      INTEGER NOT NULL CHECK (total_minor >= 0),
    authorized_minor INTEGER NOT NULL DEFAULT 0,
    currency         TEXT NOT NULL DEFAULT 'USD',
    payment_method   TEXT NOT NULL,
    payment_id       TEXT NOT NULL,
    payment_status   INTEGER NOT NULL DEFAULT 0,
    order_status     TEXT NOT NULL DEFAULT 'confirmed',
    raw_payload      BLOB,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    UNIQUE (payment_method, payment_id)
);`

// SQLiteStore is a single-node Store for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps the uniqueness check and insert serialised
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, o Order) (Order, error) {
	o, err := prepareNew(o)
	if err != nil {
		return Order{}, err
	}
	items, err := encodeItems(o.Items)
	if err != nil {
		return Order{}, err
	}
	ts := o.CreatedAt.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `INSERT INTO orders (
    id, first_name, last_name, email, address, country, city, state, zip_code,
    items, total_minor, authorized_minor, currency, payment_method, payment_id,
    payment_status, order_status, raw_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (payment_method, payment_id) DO NOTHING`,
		o.ID, o.Billing.FirstName, o.Billing.LastName, o.Billing.Email, o.Billing.Address,
		o.Billing.Country, o.Billing.City, o.Billing.State, o.Billing.ZipCode,
		items, money.ToMinor(o.Total), money.ToMinor(o.AuthorizedAmount), o.Currency, o.PaymentMethod, o.PaymentID,
		o.PaymentStatus, string(o.OrderStatus), rawOrNil(o.RawPayload), ts, ts,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return s.duplicate(ctx, o)
		}
		return Order{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, err
	}
	if n == 0 {
		return s.duplicate(ctx, o)
	}
	return o, nil
}

func (s *SQLiteStore) duplicate(ctx context.Context, o Order) (Order, error) {
	existing, err := s.FindByPayment(ctx, o.PaymentMethod, o.PaymentID)
	if err != nil {
		return Order{}, fmt.Errorf("load existing order: %w", err)
	}
	return existing, ErrDuplicate
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Order, error) {
	return s.scan(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+`, created_at, updated_at FROM orders WHERE id = ?`, id))
}

func (s *SQLiteStore) FindByPayment(ctx context.Context, method, paymentID string) (Order, error) {
	return s.scan(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+`, created_at, updated_at FROM orders
WHERE payment_method = ? AND payment_id = ?`, method, paymentID))
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, next Status) (Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT order_status FROM orders WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if !Status(current).CanTransition(next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET order_status = ?, updated_at = ? WHERE id = ?`, string(next), now, id); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) scan(r *sql.Row) (Order, error) {
	var (
		o                Order
		img              row
		created, updated string
	)
	dest := append(img.dest(&o), &created, &updated)
	if err := r.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if err := img.hydrate(&o); err != nil {
		return Order{}, err
	}
	var err error
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Order{}, fmt.Errorf("parse created_at: %w", err)
	}
	if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Order{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return o, nil
}
