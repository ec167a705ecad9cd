// Package errors provides custom error types for the Shraga coordination plane.
//
// The codes distinguish the failure classes the daemons react to differently:
// transient I/O is retried on the next poll, concurrency conflicts are an
// expected outcome of optimistic claiming, schema mismatches trigger a
// degraded retry, and fatal errors abort startup.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeTransientIO       = "TRANSIENT_IO"
	ErrCodeAuthFailure       = "AUTH_FAILURE"
	ErrCodeConflict          = "CONCURRENCY_CONFLICT"
	ErrCodeSchemaMismatch    = "SCHEMA_MISMATCH"
	ErrCodeSubprocessFailure = "SUBPROCESS_FAILURE"
	ErrCodeSessionLost       = "SESSION_LOST"
	ErrCodeLogicError        = "LOGIC_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeFatal             = "FATAL"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// TransientIO creates an error for a recoverable I/O failure (timeout, 5xx,
// socket reset). Daemons skip the current iteration and retry on the next poll.
func TransientIO(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransientIO,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// AuthFailure creates an error for a failed token acquisition. Treated like
// TransientIO by the poll loops, but logged with a login hint.
func AuthFailure(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeAuthFailure,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// Conflict creates an error for an optimistic-concurrency failure (HTTP 412).
// Expected during claiming; never logged at error level.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// SchemaMismatch creates an error for a PATCH rejected because an optional
// column does not exist on the remote table.
func SchemaMismatch(column string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSchemaMismatch,
		Message:    fmt.Sprintf("column '%s' not present on remote table", column),
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// SubprocessFailure creates an error for an LLM CLI invocation that exited
// non-zero, timed out, or produced unparseable output.
func SubprocessFailure(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSubprocessFailure,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// SessionLost creates an error for an LLM resume attempt the CLI rejected.
// The caller discards the stored session id and retries once fresh.
func SessionLost(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionLost,
		Message:    fmt.Sprintf("session '%s' could not be resumed", sessionID),
		HTTPStatus: http.StatusGone,
	}
}

// LogicError creates an error for an invariant violation (e.g. illegal task
// transition). The current iteration is abandoned; the daemon keeps running.
func LogicError(message string) *AppError {
	return &AppError{
		Code:       ErrCodeLogicError,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Fatal creates an error for an unrecoverable startup failure.
func Fatal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeFatal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeTransientIO,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsConflict checks if the error is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsTransient checks if the error should be retried on the next poll.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransientIO) || hasCode(err, ErrCodeAuthFailure)
}

// IsSchemaMismatch checks if the error is a missing-column PATCH failure.
func IsSchemaMismatch(err error) bool {
	return hasCode(err, ErrCodeSchemaMismatch)
}

// IsSessionLost checks if the error is a rejected LLM session resume.
func IsSessionLost(err error) bool {
	return hasCode(err, ErrCodeSessionLost)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsFatal checks if the error should abort daemon startup.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodeFatal)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
