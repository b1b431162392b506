// Package order holds the durable Order record and its stores.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
)

var (
	// ErrNotFound is returned when no order matches.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicate is returned by Create when an order already exists for
	// the same payment method and provider transaction id.
	ErrDuplicate = errors.New("order already exists for payment")
	// ErrInvalidTransition is returned for status changes that move backwards.
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a status name.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.rank() > 0
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusConfirmed:
		return 2
	case StatusProcessing:
		return 3
	case StatusShipped:
		return 4
	case StatusDelivered:
		return 5
	case StatusCancelled:
		return 6
	default:
		return 0
	}
}

// CanTransition reports whether an order in s may move to next. Orders only
// move forward; cancelling is allowed until shipment.
func (s Status) CanTransition(next Status) bool {
	if next.rank() == 0 || s == next {
		return false
	}
	if next == StatusCancelled {
		return s.rank() < StatusShipped.rank()
	}
	if s == StatusCancelled {
		return false
	}
	return next.rank() > s.rank()
}

// Order is a paid checkout. It is the only entity persisted by this service.
type Order struct {
	ID               string          `json:"id"`
	Billing          billing.Info    `json:"billing"`
	Items            cart.Cart       `json:"items"`
	Total            decimal.Decimal `json:"total"`
	AuthorizedAmount decimal.Decimal `json:"authorizedAmount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentID        string          `json:"paymentId"`
	PaymentStatus    bool            `json:"paymentStatus"`
	OrderStatus      Status          `json:"orderStatus"`
	RawPayload       json.RawMessage `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Store persists orders. Create must enforce uniqueness on
// (PaymentMethod, PaymentID) and return ErrDuplicate together with the
// existing order when the pair was already recorded.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	FindByPayment(ctx context.Context, method, paymentID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, next Status) (Order, error)
	Ping(ctx context.Context) error
}

func prepareNew(o Order) (Order, error) {
	switch {
	case o.ID == "":
		return o, errors.New("order id required")
	case o.PaymentMethod == "" || o.PaymentID == "":
		return o, errors.New("payment method and id required")
	case o.Total.IsNegative():
		return o, errors.New("order total must not be negative")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.CreatedAt
	if o.OrderStatus == "" {
		o.OrderStatus = StatusConfirmed
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	return o, nil
}
