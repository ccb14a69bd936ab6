package errors

import (
	"net/http"

	"shopdesk/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.details != "" {
		return e.message + ": " + e.details
	}

	return e.message
}

// Is matches any BaseError carrying the same error code, so copies made by
// WithDetails still satisfy errors.Is against the predefined values.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}

	return e.errorCode == t.errorCode
}

// WrapMessage wraps the error with additional context message
func (e *BaseError) WrapMessage(message string) error {
	return errors.Wrap(e, message)
}

// Because annotates the error with its underlying cause. The result matches
// both the BaseError and cause under errors.Is.
func (e *BaseError) Because(cause error) error {
	if cause == nil {
		return errors.WithStack(e)
	}

	return errors.WithStack(&causedError{base: e, cause: cause})
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
	}
}

type causedError struct {
	base  *BaseError
	cause error
}

func (e *causedError) Error() string {
	return e.base.Error() + ": " + e.cause.Error()
}

func (e *causedError) Unwrap() []error {
	return []error{e.base, e.cause}
}

// Data-access errors. Stale-session variants are recovered inside the
// persistence layer; the rest reach callers.
var (
	ErrStaleSession = NewBaseError(
		http.StatusInternalServerError,
		"STALE_SESSION",
		"database session is no longer valid",
		"",
	)

	ErrSessionDisposed = NewBaseError(
		http.StatusInternalServerError,
		"SESSION_DISPOSED",
		"database session has been disposed",
		"",
	)

	ErrConcurrentOperation = NewBaseError(
		http.StatusInternalServerError,
		"CONCURRENT_OPERATION",
		"a second operation was started on this session before the previous one completed",
		"",
	)

	ErrConcurrencyConflict = NewBaseError(
		http.StatusConflict,
		"CONCURRENCY_CONFLICT",
		"the record was changed or removed by another writer",
		"",
	)

	ErrBusy = NewBaseError(
		http.StatusTooManyRequests,
		"BUSY",
		"another operation is in progress, try again shortly",
		"",
	)

	ErrUnavailable = NewBaseError(
		http.StatusServiceUnavailable,
		"UNAVAILABLE",
		"the database is unavailable, try again shortly",
		"",
	)

	ErrTransactionClosed = NewBaseError(
		http.StatusConflict,
		"TRANSACTION_CLOSED",
		"transaction is no longer active",
		"",
	)

	ErrTransactionActive = NewBaseError(
		http.StatusConflict,
		"TRANSACTION_ACTIVE",
		"a transaction is already active on this session",
		"",
	)
)

// Catalog errors
var (
	ErrProductNotFound = NewBaseError(
		http.StatusNotFound,
		"PRODUCT_NOT_FOUND",
		"product not found",
		"",
	)

	ErrDuplicateSKU = NewBaseError(
		http.StatusConflict,
		"DUPLICATE_SKU",
		"a product with this sku already exists",
		"",
	)

	ErrProductInUse = NewBaseError(
		http.StatusConflict,
		"PRODUCT_IN_USE",
		"product is referenced by an invoice",
		"",
	)

	ErrInvalidInput = NewBaseError(
		http.StatusBadRequest,
		"INVALID_INPUT",
		"invalid input",
		"",
	)
)

// IsStaleSession reports whether err is one of the session invalidation
// signals that the persistence layer recovers from. A stale cause carried by
// ErrUnavailable is not: recovery was already attempted and failed.
func IsStaleSession(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return false
	}

	return errors.IsAny(err, ErrStaleSession, ErrSessionDisposed, ErrConcurrentOperation)
}
