// Package money converts checkout amounts between the store's canonical
// currency and the units each payment provider expects.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// CanonicalPlaces is the number of fractional digits kept for amounts in the
// store currency.
const CanonicalPlaces int32 = 2

// ErrInvalidAmount is returned for non-positive, non-finite or unparsable amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// Unit describes how a provider represents an amount of the canonical currency.
type Unit struct {
	Currency string
	Rate     decimal.Decimal
	Places   int32
}

var (
	// USD is the canonical unit used for PayPal and Google Pay decimal strings.
	USD = Unit{Currency: "USD", Rate: decimal.NewFromInt(1), Places: 2}
	// USDCents is Stripe's integer minor-unit representation.
	USDCents = Unit{Currency: "usd", Rate: decimal.NewFromInt(100), Places: 0}
)

// DefaultVNDRate is the fixed USD to VND conversion applied at checkout time.
const DefaultVNDRate = 24000

// VND builds the VNPay unit for the given conversion rate.
func VND(rate int64) Unit {
	if rate <= 0 {
		rate = DefaultVNDRate
	}
	return Unit{Currency: "VND", Rate: decimal.NewFromInt(rate), Places: 0}
}

// ParseAmount parses a positive canonical amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return Positive(d)
}

// FromFloat accepts an amount decoded from JSON.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	return Positive(decimal.NewFromFloat(f))
}

// Positive rejects zero and negative amounts.
func Positive(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, d.String())
	}
	return d, nil
}

// ToProviderUnit multiplies by the unit rate and rounds half-up to the unit's
// precision.
func ToProviderUnit(amount decimal.Decimal, unit Unit) (decimal.Decimal, error) {
	if _, err := Positive(amount); err != nil {
		return decimal.Zero, err
	}
	if !unit.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("money: unit %s has no rate", unit.Currency)
	}
	return amount.Mul(unit.Rate).Round(unit.Places), nil
}

// FromProviderUnit is the inverse of ToProviderUnit, rounded to canonical precision.
func FromProviderUnit(v decimal.Decimal, unit Unit) (decimal.Decimal, error) {
	if _, err := Positive(v); err != nil {
		return decimal.Zero, err
	}
	if !unit.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("money: unit %s has no rate", unit.Currency)
	}
	return v.DivRound(unit.Rate, CanonicalPlaces+2).Round(CanonicalPlaces), nil
}

// ToMinor converts a canonical amount to integer cents for storage.
func ToMinor(d decimal.Decimal) int64 {
	return d.Round(CanonicalPlaces).Shift(CanonicalPlaces).IntPart()
}

// FromMinor converts stored cents back to a canonical amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -CanonicalPlaces)
}

// Format renders a canonical amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(CanonicalPlaces)
}

// WithinMinorUnit reports whether a and b differ by at most one minor unit.
func WithinMinorUnit(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.New(1, -CanonicalPlaces))
}
