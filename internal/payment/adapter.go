// Package payment adapts external payment providers to a single
// initiate/confirm contract producing a PaymentOutcome.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
)

// Method identifies a payment provider integration.
type Method string

const (
	MethodPayPal    Method = "paypal"
	MethodStripe    Method = "stripe"
	MethodVNPay     Method = "vnpay"
	MethodGooglePay Method = "googlepay"
)

// ErrUnknownMethod is returned for methods outside the supported set.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates a method name.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case MethodPayPal, MethodStripe, MethodVNPay, MethodGooglePay:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
	}
}

// Protocol names the integration style of the method.
func (m Method) Protocol() string {
	switch m {
	case MethodPayPal:
		return "redirect-capture"
	case MethodStripe:
		return "hosted-session"
	case MethodVNPay:
		return "signed-return"
	case MethodGooglePay:
		return "client-tokenized"
	default:
		return "unknown"
	}
}

func (m Method) String() string { return string(m) }

// InitiateRequest carries what a provider needs to start a payment.
type InitiateRequest struct {
	Amount   decimal.Decimal
	Cart     cart.Cart
	Billing  billing.Info
	ClientIP string
}

// InitiationKind tells the caller how to continue the flow.
type InitiationKind string

const (
	KindRedirect     InitiationKind = "redirect"
	KindClientAction InitiationKind = "clientAction"
	KindError        InitiationKind = "error"
)

// Initiation is the result of starting a payment.
type Initiation struct {
	Kind      InitiationKind `json:"kind"`
	URL       string         `json:"url,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Reason    Reason         `json:"reason,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

// Callback is what came back from the provider: return-URL query parameters
// or a client-side payload, plus the server-held state needed to verify it.
type Callback struct {
	Params      url.Values
	Payload     map[string]any
	Billing     billing.Info
	CartTotal   decimal.Decimal
	ClientTotal string
	Cancelled   bool
}

// Outcome is a verified successful payment. Only adapters build one.
type Outcome struct {
	Method        Method          `json:"method"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	Billing       billing.Info    `json:"billing"`
}

// Adapter is implemented by every provider integration. Confirm returns a
// *Failure on every error path.
type Adapter interface {
	Method() Method
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	Confirm(ctx context.Context, cb Callback) (Outcome, error)
}

// CallbackKeyer is implemented by adapters that can derive the transaction
// id from the callback alone, before contacting the provider.
type CallbackKeyer interface {
	CallbackKey(cb Callback) (string, bool)
}

// Registry resolves adapters by method.
type Registry struct {
	adapters map[Method]Adapter
}

// NewRegistry indexes the given adapters. Later duplicates win.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Method]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Method()] = a
		}
	}
	return r
}

// Get returns the adapter for m.
func (r *Registry) Get(m Method) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[m]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not configured", ErrUnknownMethod, m)
}

// Methods lists the configured methods in stable order.
func (r *Registry) Methods() []Method {
	if r == nil {
		return nil
	}
	out := make([]Method, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
