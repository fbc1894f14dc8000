package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Configuration errors. Never retryable, the operator must fix the environment.
const (
	// ErrCodeMissingRequiredKey indicates one or more required configuration
	// keys are absent or empty.
	ErrCodeMissingRequiredKey ErrorCode = "MISSING_REQUIRED_KEY"
	// ErrCodeInvalidConfigValue indicates a configuration value failed validation.
	ErrCodeInvalidConfigValue ErrorCode = "INVALID_CONFIG_VALUE"
)

// Lifecycle errors
const (
	// ErrCodeProcessSpawnFailure indicates the application process could not be started.
	ErrCodeProcessSpawnFailure ErrorCode = "PROCESS_SPAWN_FAILURE"
	// ErrCodeHealthCheckTimeout indicates the application did not become healthy in time.
	ErrCodeHealthCheckTimeout ErrorCode = "HEALTH_CHECK_TIMEOUT"
	// ErrCodeGracefulStopTimeout indicates the application ignored SIGTERM and was killed.
	ErrCodeGracefulStopTimeout ErrorCode = "GRACEFUL_STOP_TIMEOUT"
	// ErrCodeRestartBudgetExhausted indicates automatic restarts are suspended.
	ErrCodeRestartBudgetExhausted ErrorCode = "RESTART_BUDGET_EXHAUSTED"
	// ErrCodeInvalidTransition indicates a lifecycle command is not valid in the current state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Control API errors
const (
	// ErrCodeUnauthorized indicates the request is unauthorized.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInternal indicates an internal supervisor error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeHealthCheckTimeout: true,
}

// IsRetryableCode reports whether an error code is safe to retry.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
