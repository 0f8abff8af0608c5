// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from form input
// and formatting cents for display.
package core

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is the ISO code used when rendering amounts.
const Currency = money.USD

const (
	// MaxAmountCents bounds a single amount, in either direction.
	MaxAmountCents int64 = 1_000_000_000_000
	// MaxLedgerCents bounds the summed magnitude of every expense in a
	// ledger, which keeps all totals far from int64 overflow.
	MaxLedgerCents int64 = 100_000_000_000_000_000
)

var maxAmount = decimal.NewFromInt(MaxAmountCents)

// ParseAmount converts a decimal string to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading minus sign. Fractions beyond the cent are rounded half away
// from zero. Zero parses successfully; callers that need a non-zero amount
// call Validate.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,34")  -> 1234
//	ParseAmount("12.345") -> 1235
//	ParseAmount("-3")     -> -300
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if cents.Abs().GreaterThan(maxAmount) {
		return Money{}, ErrAmountTooLarge
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Validate rejects the zero amount and amounts beyond MaxAmountCents.
func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrZeroAmount
	}
	if m.Cents > MaxAmountCents || m.Cents < -MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

// Abs is only meaningful for validated amounts.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) Add(n Money) Money { return Money{Cents: m.Cents + n.Cents} }
func (m Money) Sub(n Money) Money { return Money{Cents: m.Cents - n.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// String renders the amount with the currency symbol, e.g. "$12.34".
func (m Money) String() string {
	return money.New(m.Cents, Currency).Display()
}

// Decimal returns the amount in major units, e.g. "12.34".
func (m Money) Decimal() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
