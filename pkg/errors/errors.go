// Package errors defines the error taxonomy shared by the indexing and query
// pipeline: validation, storage, not-found, and planning failures, each
// mappable to an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input documents or queries. Never
	// retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks backend read/write failures or timeouts. Callers
	// may retry with backoff; index mutations roll back fully.
	ErrStorage = errors.New("storage failure")
	// ErrNotFound marks operations on document IDs that do not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPlanning marks unparseable queries or invalid filters.
	ErrPlanning = errors.New("query planning failed")
	// ErrTimeout marks operations that exceeded their deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrInternal marks unexpected internal failures.
	ErrInternal = errors.New("internal error")
)

// AppError couples a sentinel error with a human-readable message and the
// HTTP status code to surface it with.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel into an AppError.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf wraps a sentinel into an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Validation builds a ValidationError-class AppError.
func Validation(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusBadRequest, format, args...)
}

// Storage builds a StorageError-class AppError wrapping the cause.
func Storage(op string, cause error) *AppError {
	return Newf(ErrStorage, http.StatusServiceUnavailable, "%s: %v", op, cause)
}

// Planning builds a PlanningError-class AppError.
func Planning(format string, args ...any) *AppError {
	return Newf(ErrPlanning, http.StatusBadRequest, format, args...)
}

// NotFound builds a NotFoundError-class AppError for the given document ID.
func NotFound(docID string) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, "document %q", docID)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only storage failures and timeouts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrTimeout)
}

// HTTPStatusCode maps an error to the HTTP status code it should be served
// with. Unknown errors map to 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPlanning):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorage), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
