// Package money handles currency amounts as integer minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a currency amount in minor units (cents for USD).
type Amount int64

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidRate   = errors.New("invalid rate")
)

// DefaultPlatformFeeRate is the platform's commission on every settled order.
var DefaultPlatformFeeRate = decimal.RequireFromString("0.05")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// zero- and three-decimal currencies; everything else uses two.
var exponents = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if e, ok := exponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// Parse converts a decimal string such as "100.00" into minor units of currency.
// Values with more precision than the currency allows are rejected rather than rounded.
func Parse(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	minor := d.Shift(Exponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places for %s", ErrInvalidAmount, value, Exponent(currency), currency)
	}
	if minor.Abs().GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, value)
	}
	return Amount(minor.IntPart()), nil
}

// Format renders a in the currency's major units, e.g. 9500 USD -> "95.00".
func Format(a Amount, currency string) string {
	exp := Exponent(currency)
	return decimal.New(int64(a), -exp).StringFixed(exp)
}

// ParseRate parses a commission rate such as "0.05". Rates must be in [0, 1).
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %s not in [0, 1)", ErrInvalidRate, r)
	}
	return r, nil
}

// Split divides gross into the platform fee and the seller's earnings.
// The fee is floored to a whole minor unit and the remainder goes to the seller,
// so fee + seller == gross for every input.
func Split(gross Amount, rate decimal.Decimal) (fee, seller Amount) {
	f := decimal.NewFromInt(int64(gross)).Mul(rate).Floor()
	fee = Amount(f.IntPart())
	return fee, gross - fee
}
