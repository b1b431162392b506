package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// CheckoutSessions is the slice of the Stripe SDK the adapter uses.
type CheckoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig holds the hosted checkout settings.
type StripeConfig struct {
	SecretKey  string
	APIURL     string
	SuccessURL string
	CancelURL  string
	Currency   string
}

// Stripe implements the hosted-session flow with Stripe Checkout.
type Stripe struct {
	cfg      StripeConfig
	sessions CheckoutSessions
	unit     money.Unit
}

// NewStripeSessions builds an SDK client bound to httpClient. The SDK's own
// retries are disabled so a session is never created twice.
func NewStripeSessions(cfg StripeConfig, httpClient *http.Client) CheckoutSessions {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	return &session.Client{B: backend, Key: cfg.SecretKey}
}

// NewStripe builds the adapter around a sessions client.
func NewStripe(cfg StripeConfig, sessions CheckoutSessions) *Stripe {
	unit := money.USDCents
	if cfg.Currency != "" {
		unit.Currency = strings.ToLower(cfg.Currency)
	}
	if cfg.SuccessURL != "" && !strings.Contains(cfg.SuccessURL, "{CHECKOUT_SESSION_ID}") {
		sep := "?"
		if strings.Contains(cfg.SuccessURL, "?") {
			sep = "&"
		}
		cfg.SuccessURL += sep + "session_id={CHECKOUT_SESSION_ID}"
	}
	return &Stripe{cfg: cfg, sessions: sessions, unit: unit}
}

func (s *Stripe) Method() Method { return MethodStripe }

// Initiate creates a Checkout Session with one line item per cart entry.
func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	if req.Cart.Empty() {
		return Initiation{}, fail(MethodStripe, ReasonInvalidAmount, "", fmt.Errorf("%w: cart is empty", money.ErrInvalidAmount))
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(s.cfg.SuccessURL),
		CancelURL:          stripe.String(s.cfg.CancelURL),
	}
	params.Context = ctx
	if req.Billing.Email != "" {
		params.CustomerEmail = stripe.String(req.Billing.Email)
	}
	for _, item := range req.Cart {
		unitAmount, err := money.ToProviderUnit(item.Price, s.unit)
		if err != nil {
			return Initiation{}, fail(MethodStripe, ReasonInvalidAmount, "", fmt.Errorf("item %s: %w", item.ProductID, err))
		}
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(s.unit.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(unitAmount.IntPart()),
			},
			Quantity: stripe.Int64(int64(qty)),
		})
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return Initiation{}, stripeFailure(err)
	}
	return Initiation{Kind: KindRedirect, URL: sess.URL, Reference: sess.ID}, nil
}

// Confirm retrieves the session named in the return URL and accepts it only
// when Stripe reports it paid.
func (s *Stripe) Confirm(ctx context.Context, cb Callback) (Outcome, error) {
	if cb.Cancelled {
		return Outcome{}, fail(MethodStripe, ReasonCancelled, "", nil)
	}
	id := strings.TrimSpace(cb.Params.Get("session_id"))
	if id == "" {
		return Outcome{}, fail(MethodStripe, ReasonMalformedCallback, "", errors.New("missing session_id"))
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(id, params)
	if err != nil {
		return Outcome{}, stripeFailure(err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Outcome{}, fail(MethodStripe, ReasonDeclined, string(sess.PaymentStatus), nil)
	}

	txID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		txID = sess.PaymentIntent.ID
	}
	amount, err := money.FromProviderUnit(decimal.NewFromInt(sess.AmountTotal), s.unit)
	if err != nil {
		return Outcome{}, fail(MethodStripe, ReasonMalformedCallback, "", err)
	}
	return Outcome{
		Method:        MethodStripe,
		TransactionID: txID,
		Amount:        amount,
		Raw:           toJSON(sess),
		Billing:       customerBilling(sess.CustomerDetails),
	}, nil
}

func customerBilling(cd *stripe.CheckoutSessionCustomerDetails) billing.Info {
	if cd == nil {
		return billing.Info{}
	}
	first, last := billing.SplitName(cd.Name)
	info := billing.Info{FirstName: first, LastName: last, Email: cd.Email}
	if cd.Address != nil {
		info.Address = cd.Address.Line1
		info.City = cd.Address.City
		info.State = cd.Address.State
		info.Country = cd.Address.Country
		info.ZipCode = cd.Address.PostalCode
	}
	return info
}

func stripeFailure(err error) *Failure {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return AsFailure(MethodStripe, err)
	}
	code := string(serr.Code)
	if code == "" {
		code = strconv.Itoa(serr.HTTPStatusCode)
	}
	switch {
	case serr.HTTPStatusCode == http.StatusUnauthorized || serr.HTTPStatusCode == http.StatusForbidden:
		return fail(MethodStripe, ReasonProviderAuthFailed, code, err)
	case serr.HTTPStatusCode == http.StatusNotFound:
		return fail(MethodStripe, ReasonMalformedCallback, code, err)
	case serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 0 || serr.Type == stripe.ErrorTypeAPI:
		return fail(MethodStripe, ReasonProviderUnreachable, code, err)
	default:
		return fail(MethodStripe, ReasonDeclined, code, err)
	}
}
