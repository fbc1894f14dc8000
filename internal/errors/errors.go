// Package errors provides the structured error type used across keeper.
// Errors carry a machine-readable code, a retryable flag, and an HTTP
// status so the control API can map them without switch statements at
// every call site.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Constructors for the supervisor error taxonomy ---

// MissingRequiredKey creates an error naming every absent required key.
func MissingRequiredKey(keys []string) *AppError {
	return &AppError{
		Code:       ErrCodeMissingRequiredKey,
		Message:    fmt.Sprintf("missing required configuration keys: %s", strings.Join(keys, ", ")),
		HTTPStatus: http.StatusUnprocessableEntity,
		Retryable:  false,
		Details:    map[string]any{"keys": keys},
	}
}

// MissingKeys extracts the key list from a MissingRequiredKey error, nil
// otherwise. Details decoded from JSON carry the list as []any, so both
// shapes are accepted.
func MissingKeys(err error) []string {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != ErrCodeMissingRequiredKey {
		return nil
	}
	switch raw := appErr.Details["keys"].(type) {
	case []string:
		return raw
	case []any:
		keys := make([]string, 0, len(raw))
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

// ProcessSpawnFailure creates an error for a child process that could not start.
func ProcessSpawnFailure(binary string, cause error) *AppError {
	return &AppError{
		Code:       ErrCodeProcessSpawnFailure,
		Message:    fmt.Sprintf("failed to spawn process %q", binary),
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  false,
		Details:    map[string]any{"binary": binary},
		Cause:      cause,
	}
}

// HealthCheckTimeout creates an error for an application that never became healthy.
func HealthCheckTimeout(endpoint string, waited string) *AppError {
	return &AppError{
		Code:       ErrCodeHealthCheckTimeout,
		Message:    fmt.Sprintf("application did not become healthy within %s", waited),
		HTTPStatus: http.StatusGatewayTimeout,
		Retryable:  true,
		Details:    map[string]any{"endpoint": endpoint, "waited": waited},
	}
}

// GracefulStopTimeout creates an error for a forced termination.
// It is informational; the stop itself still succeeds.
func GracefulStopTimeout(grace string) *AppError {
	return &AppError{
		Code:       ErrCodeGracefulStopTimeout,
		Message:    fmt.Sprintf("process did not exit within grace period %s, killed", grace),
		HTTPStatus: http.StatusOK,
		Retryable:  false,
		Details:    map[string]any{"grace_period": grace},
	}
}

// RestartBudgetExhausted creates an error for a supervisor that gave up restarting.
func RestartBudgetExhausted(attempts int) *AppError {
	return &AppError{
		Code:       ErrCodeRestartBudgetExhausted,
		Message:    fmt.Sprintf("automatic restart budget exhausted after %d attempts, operator intervention required", attempts),
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  false,
		Details:    map[string]any{"attempts": attempts},
	}
}

// InvalidTransition creates an error for a lifecycle command issued in the wrong state.
func InvalidTransition(command, state string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("cannot %s while %s", command, state),
		HTTPStatus: http.StatusConflict,
		Retryable:  false,
		Details:    map[string]any{"command": command, "state": state},
	}
}

// Unauthorized creates an error for a rejected control API request.
func Unauthorized(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    reason,
		HTTPStatus: http.StatusUnauthorized,
		Retryable:  false,
	}
}

// Internal creates an error for an unexpected supervisor failure.
func Internal(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  false,
	}
}

// HTTPStatusOf returns the HTTP status for an error, defaulting to 500.
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code, or ErrCodeInternal for unstructured errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
