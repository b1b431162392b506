package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
)

// ErrSessionUnavailable is returned when the checkout context cannot be read
// or written before any money moved.
var ErrSessionUnavailable = errors.New("checkout session unavailable")

// InitiateInput starts a payment. A zero Amount means the cart total.
type InitiateInput struct {
	Method    payment.Method
	SessionID string
	Amount    decimal.Decimal
	Billing   billing.Info
	ClientIP  string
}

// ConfirmInput carries a provider return or a client-side payment payload.
type ConfirmInput struct {
	Method      payment.Method
	SessionID   string
	Params      url.Values
	Payload     map[string]any
	Billing     billing.Info
	ClientTotal string
	Cancelled   bool
}

// Service orchestrates initiate and confirm across the payment adapters.
type Service struct {
	Adapters  *payment.Registry
	Sessions  SessionStore
	Orders    order.Store
	Lifecycle *Lifecycle
	Events    *events.Bus
	Logger    zerolog.Logger
	// Timeout bounds the detached confirm step.
	Timeout time.Duration
}

// Initiate stores the billing slot for the method and starts the provider
// flow. On failure the returned Initiation has KindError and err is the
// adapter's *payment.Failure.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (init payment.Initiation, err error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("payment.method", in.Method.String()))
	defer func() {
		res := "ok"
		if err != nil {
			res = string(payment.FailureReason(err))
			if res == "" {
				res = "error"
			}
			span.RecordError(err)
			init = payment.Initiation{Kind: payment.KindError, Reason: payment.FailureReason(err)}
		}
		obs.Inc(obs.CheckoutInitiateTotal, in.Method.String(), res)
	}()

	adapter, err := s.Adapters.Get(in.Method)
	if err != nil {
		return payment.Initiation{}, err
	}

	sc, err := s.Sessions.Update(ctx, in.SessionID, func(c *session.Context) error {
		if !in.Billing.IsZero() {
			c.PutBilling(in.Method.String(), in.Billing)
		}
		c.PutSnapshot(in.Method.String(), c.Cart)
		return nil
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("session_id", in.SessionID).Msg("checkout_session_unavailable")
		return payment.Initiation{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	amount := in.Amount
	if !amount.IsPositive() {
		amount = sc.Cart.Total()
	}
	info := in.Billing
	if pending, ok := sc.PendingBilling(in.Method.String()); ok {
		info = info.Merge(pending)
	}
	init, err = adapter.Initiate(ctx, payment.InitiateRequest{
		Amount:   amount,
		Cart:     sc.Cart.Snapshot(),
		Billing:  info,
		ClientIP: in.ClientIP,
	})
	if err != nil {
		err = payment.AsFailure(in.Method, err)
		s.Logger.Warn().Err(err).Str("payment_method", in.Method.String()).Msg("checkout_initiate_failed")
		return payment.Initiation{}, err
	}
	return init, nil
}

// Confirm verifies the provider callback and records the order. The
// provider call and the order write run detached from ctx so a browser that
// disconnects mid-capture cannot leave a charge without an order.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (result Finalized, err error) {
	start := time.Now()
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("payment.method", in.Method.String()))
	defer func() {
		res := "ok"
		switch {
		case err == nil && result.Duplicate:
			res = "duplicate"
		case IsOrderWriteFailed(err):
			res = string(KindOrderWriteFailedAfterPayment)
		case err != nil:
			res = string(payment.FailureReason(err))
			if res == "" {
				res = "error"
			}
		}
		if err != nil {
			span.RecordError(err)
		}
		obs.Inc(obs.CheckoutConfirmTotal, in.Method.String(), res)
		obs.Observe(obs.CheckoutConfirmSeconds, time.Since(start).Seconds(), in.Method.String())
	}()

	adapter, err := s.Adapters.Get(in.Method)
	if err != nil {
		return Finalized{}, err
	}
	log := s.Logger.With().Str("payment_method", in.Method.String()).Str("session_id", in.SessionID).Logger()

	if in.Cancelled {
		if _, cerr := adapter.Confirm(ctx, payment.Callback{Params: in.Params, Cancelled: true}); cerr != nil {
			return Finalized{}, payment.AsFailure(in.Method, cerr)
		}
		return Finalized{}, &payment.Failure{Method: in.Method, Reason: payment.ReasonCancelled}
	}

	sc, err := s.Sessions.Get(ctx, in.SessionID)
	if err != nil {
		log.Error().Err(err).Msg("checkout_session_unavailable")
		return Finalized{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	pending, _ := sc.PendingBilling(in.Method.String())
	// the order records what was sent to the provider, not what the cart
	// holds now
	items, ok := sc.PendingSnapshot(in.Method.String())
	if !ok {
		items = sc.Cart.Snapshot()
	}
	cb := payment.Callback{
		Params:      in.Params,
		Payload:     in.Payload,
		Billing:     in.Billing.Merge(pending),
		CartTotal:   items.Total(),
		ClientTotal: in.ClientTotal,
	}

	if existing, ok := s.existingOrder(ctx, adapter, cb); ok {
		log.Info().Str("order_id", existing.ID).Msg("checkout_callback_replayed")
		if s.Lifecycle != nil {
			s.Lifecycle.settleReplay(ctx, in.SessionID, existing)
		}
		return Finalized{Order: existing, Duplicate: true}, nil
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
	defer cancel()

	outcome, err := adapter.Confirm(dctx, cb)
	if err != nil {
		f := payment.AsFailure(in.Method, err)
		log.Warn().Err(f).Str("reason", string(f.Reason)).Str("code", f.Code).Msg("checkout_confirm_failed")
		if f.Reason != payment.ReasonCancelled && s.Events != nil {
			_, _ = s.Events.Emit(dctx, events.TopicPaymentFailed, in.Method.String()+":"+in.SessionID, events.OrderEvent{
				SessionID:     in.SessionID,
				PaymentMethod: in.Method.String(),
				Reason:        string(f.Reason),
				Code:          f.Code,
			})
		}
		return Finalized{}, f
	}
	return s.Lifecycle.Finalize(dctx, in.SessionID, outcome, items, cb.Billing)
}

// existingOrder short-circuits a replayed return URL to the order it already
// produced. Lookup errors fall through to the normal path; the unique
// constraint still holds.
func (s *Service) existingOrder(ctx context.Context, adapter payment.Adapter, cb payment.Callback) (order.Order, bool) {
	keyer, ok := adapter.(payment.CallbackKeyer)
	if !ok || s.Orders == nil {
		return order.Order{}, false
	}
	key, ok := keyer.CallbackKey(cb)
	if !ok {
		return order.Order{}, false
	}
	o, err := s.Orders.FindByPayment(ctx, adapter.Method().String(), key)
	if err != nil {
		return order.Order{}, false
	}
	return o, true
}

func (s *Service) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return s.Timeout
}
