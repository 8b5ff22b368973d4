package errors

// Error codes for categorizing errors surfaced by the dial layer.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeUnknown indicates an unknown error occurred.
	CodeUnknown = "UNKNOWN"

	// CodeSchedulerStopped indicates the dial scheduler is not running and
	// the request was never buffered.
	CodeSchedulerStopped = "SCHEDULER_STOPPED"

	// CodeAborted indicates a dial request was terminated before completing:
	// rejected by backpressure, superseded by a hot request for the same
	// peer, or force-cancelled by shutdown or queue eviction.
	CodeAborted = "ABORTED"

	// CodeNotFound indicates a peer was not found in the registry.
	CodeNotFound = "NOT_FOUND"

	// CodeTimeout indicates a dial attempt timed out.
	CodeTimeout = "TIMEOUT"

	// CodeNetworkError indicates the transport failed to establish a
	// connection.
	CodeNetworkError = "NETWORK_ERROR"

	// CodeBlacklisted indicates no dial will be attempted because the peer
	// is permanently blacklisted.
	CodeBlacklisted = "BLACKLISTED"

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryCaller indicates the caller submitted a request the layer
	// refuses by policy (backpressure, supersession, stopped scheduler).
	CategoryCaller ErrorCategory = "CALLER_ERROR"

	// CategoryNetwork indicates a network-related error.
	CategoryNetwork ErrorCategory = "NETWORK_ERROR"

	// CategoryTimeout indicates a timeout error.
	CategoryTimeout ErrorCategory = "TIMEOUT_ERROR"

	// CategoryValidation indicates a validation error.
	CategoryValidation ErrorCategory = "VALIDATION_ERROR"

	// CategoryInternal indicates an internal error.
	CategoryInternal ErrorCategory = "INTERNAL_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeSchedulerStopped, CodeAborted, CodeBlacklisted, CodeNotFound:
		return CategoryCaller

	case CodeTimeout:
		return CategoryTimeout

	case CodeNetworkError:
		return CategoryNetwork

	case CodeValidation, CodeConfigError:
		return CategoryValidation

	default:
		return CategoryInternal
	}
}

// IsRetryable returns true if an error with the given code may succeed on a
// later attempt. The dial layer itself never retries; retry and backoff are
// the per-peer queue's responsibility.
func IsRetryable(code string) bool {
	switch code {
	case CodeTimeout, CodeNetworkError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if an error with the given code will never be
// retried for the request it resolved.
func IsTerminal(code string) bool {
	switch code {
	case CodeSchedulerStopped, CodeAborted, CodeBlacklisted:
		return true
	default:
		return false
	}
}
