package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a specific currency.
// Amount is stored as integer minor units (e.g. centimes) to avoid
// floating point errors in ledger arithmetic.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// NormalizeCurrency canonicalizes an ISO 4217 code for comparison and
// storage.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the minor units to a shopspring/decimal major-unit
// value with two decimal places.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

// WireAmount is the adapter wire representation: the minor-unit amount as
// a plain decimal string.
func (m Money) WireAmount() string {
	return decimal.NewFromInt(m.Amount).String()
}

// String returns a display representation in major units.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
