package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound      ErrorCode = "account_not_found"
	DuplicateTransaction ErrorCode = "duplicate_transaction"
	UnbalancedEntries    ErrorCode = "unbalanced_entries"
	CurrencyMismatch     ErrorCode = "currency_mismatch"
	ImmutableEntry       ErrorCode = "immutable_entry"
	InvalidAmount        ErrorCode = "invalid_amount"
	InvalidInput         ErrorCode = "invalid_input"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// HTTPStatus maps the error taxonomy onto transport status codes so the
// handler layer never needs to switch on individual errors.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound:
		return http.StatusNotFound
	case DuplicateTransaction:
		return http.StatusConflict
	case UnbalancedEntries, CurrencyMismatch, InvalidAmount, InvalidInput:
		return http.StatusBadRequest
	case ImmutableEntry:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrAccountNotFound        = NewAppError(AccountNotFound, "account not found")
	ErrDuplicateTransaction   = NewAppError(DuplicateTransaction, "transaction already posted")
	ErrImmutableEntry         = NewAppError(ImmutableEntry, "ledger entries are append-only and cannot be modified")
	ErrInvalidAmount          = NewAppError(InvalidAmount, "amount must be non-negative")
	ErrCannotBeginTransaction = NewAppError(InternalError, "store cannot begin a transaction inside a transaction")
)
