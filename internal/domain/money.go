package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooPrecise    = errors.New("amount has more than 2 decimal places")
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a major-unit string such as "12.5" into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, ErrTooPrecise
	}
	return d.Mul(hundred).IntPart(), nil
}

// AmountFromFloat converts a gateway float amount into minor units, rounding half away from zero.
func AmountFromFloat(f float64) int64 {
	return decimal.NewFromFloat(f).Mul(hundred).Round(0).IntPart()
}

// AmountToFloat converts minor units to the float the gateway expects on the wire.
func AmountToFloat(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}

// FormatAmount renders minor units with two decimals, e.g. 1250 -> "12.50".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// Percent applies a fractional rate such as "0.05" to an amount in minor units.
func Percent(minor int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(rate).Round(0).IntPart()
}
