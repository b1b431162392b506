// Package status encodes checkout results into the query string of the
// /checkout redirect, and reads them back.
package status

import (
	"errors"
	"net/url"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// Kind is the coarse result shown to the buyer.
type Kind string

const (
	Success Kind = "success"
	Cancel  Kind = "cancel"
	Error   Kind = "error"
)

// ReasonOrderWriteFailed marks a payment that succeeded without an order.
const ReasonOrderWriteFailed = "order-write-failed-after-payment"

// DefaultPath is where every provider return lands.
const DefaultPath = "/checkout"

// Signal is one checkout result.
type Signal struct {
	Provider payment.Method
	Status   Kind
	OrderID  string
	Code     string
	Reason   string
}

func paramName(p payment.Method) string {
	return string(p) + "_status"
}

// URL appends the signal to base. Existing query parameters are kept.
func URL(base string, s Signal) string {
	if base == "" {
		base = DefaultPath
	}
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Path: DefaultPath}
	}
	q := u.Query()
	q.Set(paramName(s.Provider), string(s.Status))
	if s.OrderID != "" {
		q.Set("order_id", s.OrderID)
	}
	if s.Code != "" {
		q.Set("code", s.Code)
	}
	if s.Reason != "" {
		q.Set("reason", s.Reason)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Parse reads the signal for provider out of values. ok is false when the
// values carry no status for that provider.
func Parse(values url.Values, provider payment.Method) (Signal, bool) {
	raw := strings.TrimSpace(values.Get(paramName(provider)))
	switch Kind(raw) {
	case Success, Cancel, Error:
	default:
		return Signal{}, false
	}
	return Signal{
		Provider: provider,
		Status:   Kind(raw),
		OrderID:  values.Get("order_id"),
		Code:     values.Get("code"),
		Reason:   values.Get("reason"),
	}, true
}

// Succeeded builds the success signal for an order.
func Succeeded(provider payment.Method, orderID string) Signal {
	return Signal{Provider: provider, Status: Success, OrderID: orderID}
}

// WriteFailed builds the signal for a payment that was captured but could
// not be recorded.
func WriteFailed(provider payment.Method) Signal {
	return Signal{Provider: provider, Status: Error, Reason: ReasonOrderWriteFailed}
}

// FromFailure maps an adapter failure to a signal. Only VNPay surfaces the
// provider response code to the buyer.
func FromFailure(provider payment.Method, err error) Signal {
	var f *payment.Failure
	if !errors.As(err, &f) {
		return Signal{Provider: provider, Status: Error}
	}
	if f.Reason == payment.ReasonCancelled {
		return Signal{Provider: provider, Status: Cancel}
	}
	s := Signal{Provider: provider, Status: Error}
	if provider == payment.MethodVNPay {
		s.Code = f.Code
	}
	return s
}
