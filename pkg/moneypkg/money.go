// Package moneypkg converts between decimal amount strings and the integer
// minor units the ledger stores.
package moneypkg

import (
	"errors"

	"github.com/go-petr/bank-ledger/pkg/currencypkg"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates a malformed decimal amount string.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTooPrecise indicates more decimal places than the currency allows.
	ErrTooPrecise = errors.New("amount exceeds currency precision")
)

// ToMinorUnits parses a decimal amount string into minor units of the
// given currency.
func ToMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	shifted := d.Shift(currencypkg.Exponent(currency))
	if !shifted.IsInteger() {
		return 0, ErrTooPrecise
	}

	return shifted.IntPart(), nil
}

// FromMinorUnits formats minor units of the given currency as a decimal
// string with the currency's full precision.
func FromMinorUnits(v int64, currency string) string {
	exp := currencypkg.Exponent(currency)
	return decimal.New(v, -exp).StringFixed(exp)
}
