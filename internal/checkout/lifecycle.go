package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
)

// FinalizeKind classifies finalize failures.
type FinalizeKind string

// KindOrderWriteFailedAfterPayment means the provider took the money but no
// order could be recorded. It needs a human, never a retry prompt.
const KindOrderWriteFailedAfterPayment FinalizeKind = "order-write-failed-after-payment"

// FinalizeError is returned by Finalize when a verified payment could not be
// turned into an order.
type FinalizeError struct {
	Kind      FinalizeKind
	Method    payment.Method
	PaymentID string
	Err       error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("%s: %s payment %s: %v", e.Kind, e.Method, e.PaymentID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

// IsOrderWriteFailed reports whether err is a paid-but-unrecorded failure.
func IsOrderWriteFailed(err error) bool {
	var fe *FinalizeError
	return errors.As(err, &fe) && fe.Kind == KindOrderWriteFailedAfterPayment
}

// Finalized is the result of a successful Finalize. Duplicate is set when
// the payment had already produced an order; Order is then that order.
type Finalized struct {
	Order     order.Order
	Duplicate bool
}

// SessionStore is the slice of the session store checkout needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (session.Context, error)
	Update(ctx context.Context, id string, fn func(*session.Context) error) (session.Context, error)
	ClearCheckout(ctx context.Context, id string) error
}

// Lifecycle turns verified payment outcomes into orders exactly once.
type Lifecycle struct {
	Orders   order.Store
	Sessions SessionStore
	Events   *events.Bus
	Currency string
	Logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

// Finalize records the order for outcome. The session context is cleared
// only when this call created the order.
func (l *Lifecycle) Finalize(ctx context.Context, sessionID string, outcome payment.Outcome, snapshot cart.Cart, info billing.Info) (result Finalized, err error) {
	ctx, span := otel.Tracer("checkout.Lifecycle").Start(ctx, "Lifecycle.Finalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.method", outcome.Method.String()),
		attribute.String("payment.id", outcome.TransactionID),
	)
	defer func() {
		res := "created"
		switch {
		case err != nil:
			res = "write_failed"
			span.RecordError(err)
		case result.Duplicate:
			res = "duplicate"
		}
		obs.Inc(obs.OrderFinalizeTotal, outcome.Method.String(), res)
	}()

	log := l.Logger.With().
		Str("payment_method", outcome.Method.String()).
		Str("payment_id", outcome.TransactionID).
		Str("session_id", sessionID).
		Logger()

	total := outcome.Amount
	if !snapshot.Empty() {
		total = snapshot.Total()
		if !money.WithinMinorUnit(total, outcome.Amount) {
			obs.Inc(obs.AmountMismatchTotal, outcome.Method.String())
			log.Warn().
				Str("cart_total", money.Format(total)).
				Str("authorized", money.Format(outcome.Amount)).
				Msg("checkout_amount_mismatch")
		}
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := order.Order{
		ID:               l.id(),
		Billing:          info.Merge(outcome.Billing),
		Items:            snapshot.Snapshot(),
		Total:            total,
		AuthorizedAmount: outcome.Amount,
		Currency:         l.currency(),
		PaymentMethod:    outcome.Method.String(),
		PaymentID:        outcome.TransactionID,
		PaymentStatus:    true,
		OrderStatus:      order.StatusConfirmed,
		RawPayload:       outcome.Raw,
		CreatedAt:        l.clock(),
	}

	if !o.Billing.Complete() {
		log.Warn().Str("email", o.Billing.Email).Msg("order_billing_partial")
	}

	saved, err := l.Orders.Create(ctx, o)
	if errors.Is(err, order.ErrDuplicate) {
		log.Info().Str("order_id", saved.ID).Msg("order_already_recorded")
		l.settleReplay(ctx, sessionID, saved)
		return Finalized{Order: saved, Duplicate: true}, nil
	}
	if err != nil {
		log.Error().Err(err).Str("total", money.Format(total)).Msg("order_write_failed_after_payment")
		l.emit(ctx, events.TopicOrderWriteFailed, outcome, events.OrderEvent{
			SessionID:     sessionID,
			PaymentMethod: outcome.Method.String(),
			PaymentID:     outcome.TransactionID,
			Total:         money.Format(total),
			Currency:      o.Currency,
			Email:         o.Billing.Email,
			FirstName:     o.Billing.FirstName,
			Reason:        string(KindOrderWriteFailedAfterPayment),
		})
		return Finalized{}, &FinalizeError{
			Kind:      KindOrderWriteFailedAfterPayment,
			Method:    outcome.Method,
			PaymentID: outcome.TransactionID,
			Err:       err,
		}
	}

	if l.Sessions != nil && sessionID != "" {
		if clearErr := l.Sessions.ClearCheckout(ctx, sessionID); clearErr != nil {
			log.Error().Err(clearErr).Str("order_id", saved.ID).Msg("session_clear_failed")
		}
	}
	log.Info().Str("order_id", saved.ID).Str("total", money.Format(saved.Total)).Msg("order_confirmed")
	l.emit(ctx, events.TopicOrderConfirmed, outcome, events.OrderEvent{
		OrderID:       saved.ID,
		SessionID:     sessionID,
		PaymentMethod: saved.PaymentMethod,
		PaymentID:     saved.PaymentID,
		Total:         money.Format(saved.Total),
		Currency:      saved.Currency,
		Email:         saved.Billing.Email,
		FirstName:     saved.Billing.FirstName,
	})
	return Finalized{Order: saved}, nil
}

// settleReplay clears a session that still holds the checkout an existing
// order was created from. It covers a clear that failed after the create.
// A session that has moved on to a different cart is left alone.
func (l *Lifecycle) settleReplay(ctx context.Context, sessionID string, existing order.Order) {
	if l.Sessions == nil || sessionID == "" {
		return
	}
	_, err := l.Sessions.Update(ctx, sessionID, func(c *session.Context) error {
		snap, ok := c.PendingSnapshot(existing.PaymentMethod)
		if ok && sameItems(snap, existing.Items) {
			c.ClearCheckout()
		}
		return nil
	})
	if err != nil {
		l.Logger.Warn().Err(err).Str("order_id", existing.ID).Str("session_id", sessionID).Msg("session_settle_failed")
	}
}

func sameItems(a, b cart.Cart) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity || !a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}

func (l *Lifecycle) emit(ctx context.Context, topic string, outcome payment.Outcome, ev events.OrderEvent) {
	if l.Events == nil {
		return
	}
	key := outcome.Method.String() + ":" + outcome.TransactionID
	if _, err := l.Events.Emit(ctx, topic, key, ev); err != nil {
		l.Logger.Warn().Err(err).Str("topic", topic).Msg("event_emit_failed")
	}
}

func (l *Lifecycle) id() string {
	if l.newID != nil {
		return l.newID()
	}
	return uuid.NewString()
}

func (l *Lifecycle) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Lifecycle) currency() string {
	if l.Currency == "" {
		return "USD"
	}
	return l.Currency
}
