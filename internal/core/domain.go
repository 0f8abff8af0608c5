package core

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxNameLength caps category and expense names, counted in characters.
const MaxNameLength = 200

type (
	Money struct {
		Cents int64
	}

	Category struct {
		ID    int64
		Name  string
		Total Money // derived from the category's expenses, never stored
	}

	Expense struct {
		ID         int64
		CategoryID int64 // owning category
		Name       string
		Amount     Money
	}
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long (max 200 characters)")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrZeroAmount       = errors.New("amount must not be zero")
	ErrAmountTooLarge   = errors.New("amount too large")
	ErrLedgerFull       = errors.New("ledger total would exceed its limit")
	ErrNoSelection      = errors.New("no category selected")
	ErrNotEditing       = errors.New("not in edit mode")
	ErrCategoryNotFound = errors.New("category not found")
	ErrExpenseNotFound  = errors.New("expense not found")
)

// IsValidation reports whether err is caused by rejected user input
// rather than a missing entity or an internal failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrZeroAmount) ||
		errors.Is(err, ErrAmountTooLarge) ||
		errors.Is(err, ErrLedgerFull) ||
		errors.Is(err, ErrNoSelection) ||
		errors.Is(err, ErrNotEditing)
}

// IsNotFound reports whether err refers to an unknown category or expense.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCategoryNotFound) || errors.Is(err, ErrExpenseNotFound)
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (c Category) Validate() error {
	return validateName(c.Name)
}

func (e Expense) Validate() error {
	if err := validateName(e.Name); err != nil {
		return err
	}
	return e.Amount.Validate()
}
