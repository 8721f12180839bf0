package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationFailed    ErrorCode = "validation_failed"
	InvalidInput        ErrorCode = "invalid_input"
	InvalidAmount       ErrorCode = "invalid_amount"
	AccountNotFound     ErrorCode = "account_not_found"
	InsufficientBalance ErrorCode = "insufficient_balance"
	GatewayUnavailable  ErrorCode = "gateway_unavailable"
	VersionConflict     ErrorCode = "version_conflict"
	InconsistentState   ErrorCode = "inconsistent_state"
	DuplicateMovement   ErrorCode = "duplicate_movement"
	InternalError       ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
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
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps an error code to the status the HTTP layer should return.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationFailed, InvalidInput, InvalidAmount:
		return http.StatusBadRequest
	case AccountNotFound:
		return http.StatusNotFound
	case InsufficientBalance:
		return http.StatusUnprocessableEntity
	case DuplicateMovement, VersionConflict:
		return http.StatusConflict
	case GatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the taxonomy code from any error, so callers can branch on
// kind instead of message text. Unrecognized errors map to InternalError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Predefined errors for common cases
var (
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrAccountInactive     = NewAppError(AccountNotFound, "account is not active")
	ErrInvalidAccountID    = NewAppError(InvalidInput, "invalid account id")
	ErrInvalidAmount       = NewAppError(InvalidAmount, "amount must be a positive decimal")
	ErrSameAccountTransfer = NewAppError(ValidationFailed, "cannot transfer to the same account")
	ErrCurrencyMismatch    = NewAppError(ValidationFailed, "accounts use different currencies")
	ErrInsufficientBalance = NewAppError(InsufficientBalance, "insufficient balance")
	ErrGatewayUnavailable  = NewAppError(GatewayUnavailable, "account service unavailable")
	ErrVersionConflict     = NewAppError(VersionConflict, "account was modified concurrently")
	ErrDuplicateMovement   = NewAppError(DuplicateMovement, "movement already processed")
	ErrInconsistentState   = NewAppError(InconsistentState, "transfer left balances in an inconsistent state; manual reconciliation required")
)
