package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point currency amount in major units (e.g. dollars).
type Money struct {
	decimal.Decimal
}

// CentsPlaces is the number of minor-unit digits for supported currencies.
const CentsPlaces = 2

func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// ParseMoney parses a decimal string such as "20.00".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Money{Decimal: d}, nil
}

// MoneyFromCents converts a minor-unit amount, as the payment provider
// reports it, into Money.
func MoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -CentsPlaces)}
}

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// Cents returns the amount in minor units. It fails when the amount carries
// more precision than the currency allows or does not fit in an int64.
func (m Money) Cents() (int64, error) {
	shifted := m.Shift(CentsPlaces)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has sub-cent precision", ErrValidationFailed, m.Decimal.String())
	}
	if shifted.LessThan(minCents) || shifted.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: amount %s is out of range", ErrValidationFailed, m.Decimal.String())
	}
	return shifted.IntPart(), nil
}

// String renders the amount with exactly two decimal places.
func (m Money) String() string {
	return m.StringFixed(CentsPlaces)
}

func (m Money) Equal(other Money) bool {
	return m.Decimal.Equal(other.Decimal)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}
