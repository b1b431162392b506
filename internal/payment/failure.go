package payment

import (
	"errors"
	"fmt"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// Reason classifies why a payment did not produce an outcome.
type Reason string

const (
	ReasonCancelled           Reason = "cancelled"
	ReasonDeclined            Reason = "declined"
	ReasonMalformedCallback   Reason = "malformed-callback"
	ReasonProviderUnreachable Reason = "provider-unreachable"
	ReasonProviderAuthFailed  Reason = "provider-auth-failed"
	ReasonInvalidAmount       Reason = "invalid-amount"
)

// Failure is the only error type adapters return. Code carries the
// provider's raw status or response code when there is one.
type Failure struct {
	Method Method
	Reason Reason
	Code   string
	Err    error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Method, f.Reason)
	if f.Code != "" {
		msg += " (code " + f.Code + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(m Method, r Reason, code string, err error) *Failure {
	return &Failure{Method: m, Reason: r, Code: code, Err: err}
}

// AsFailure returns err as a *Failure, classifying foreign errors so raw
// provider or transport errors never leak past an adapter.
func AsFailure(m Method, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, money.ErrInvalidAmount) {
		return fail(m, ReasonInvalidAmount, "", err)
	}
	// timeouts, an open breaker and dial errors all mean no usable answer
	return fail(m, ReasonProviderUnreachable, "", err)
}

// FailureReason extracts the reason from err, or "" when err is not a Failure.
func FailureReason(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
