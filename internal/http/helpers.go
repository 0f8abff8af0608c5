package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ledger/internal/core"
	"ledger/internal/metrics"
)

var errBadID = errors.New("invalid id")

// parseID reads the {id} path value as a positive integer.
func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// statusFor maps ledger errors to HTTP status codes and metric outcomes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadID):
		return http.StatusBadRequest, metrics.OutcomeRejected
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity, metrics.OutcomeRejected
	case core.IsNotFound(err):
		return http.StatusNotFound, metrics.OutcomeNotFound
	default:
		return http.StatusInternalServerError, metrics.OutcomeError
	}
}

// userMessage is the text shown to the user for a failed action.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errBadID):
		return "Invalid identifier"
	case errors.Is(err, core.ErrEmptyName):
		return "Please enter a name"
	case errors.Is(err, core.ErrNameTooLong):
		return "Name is too long"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Please enter a valid amount"
	case errors.Is(err, core.ErrZeroAmount):
		return "Amount must not be zero"
	case errors.Is(err, core.ErrAmountTooLarge):
		return "Amount is too large"
	case errors.Is(err, core.ErrLedgerFull):
		return "The ledger cannot hold a larger total"
	case errors.Is(err, core.ErrNoSelection):
		return "Select a category first"
	case errors.Is(err, core.ErrNotEditing):
		return "Nothing is being edited"
	case errors.Is(err, core.ErrCategoryNotFound):
		return "Category not found"
	case errors.Is(err, core.ErrExpenseNotFound):
		return "Expense not found"
	default:
		return "Something went wrong"
	}
}
