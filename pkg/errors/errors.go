package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrSchedulerStopped is returned when a dial request arrives while the
	// scheduler is not running.
	ErrSchedulerStopped = errors.New("dial scheduler stopped")

	// ErrAborted is returned when a dial request is terminated before a
	// dial attempt completed.
	ErrAborted = errors.New("dial aborted")

	// ErrNotFound is returned when a peer is unknown to the registry.
	ErrNotFound = errors.New("peer not found")

	// ErrTimeout is returned when a dial attempt times out.
	ErrTimeout = errors.New("dial timeout")

	// ErrBlacklisted is returned when a peer is permanently blacklisted.
	ErrBlacklisted = errors.New("peer permanently blacklisted")

	// ErrNoAddresses is returned when a peer has no known addresses to dial.
	ErrNoAddresses = errors.New("no addresses for peer")
)

// Error is the base interface for all custom errors in the system.
// It extends the standard error interface with additional context.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

// captureStack captures the current stack trace.
func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// AbortReason names why a dial request was aborted.
type AbortReason string

const (
	// ReasonBackpressure means the cold-call cap rejected the request.
	ReasonBackpressure AbortReason = "backpressure"

	// ReasonSuperseded means a hot request for the same peer already
	// guarantees eventual dialing.
	ReasonSuperseded AbortReason = "superseded"

	// ReasonShutdown means the scheduler was stopped with the request
	// still buffered or in flight.
	ReasonShutdown AbortReason = "shutdown"

	// ReasonEvicted means the cleanup sweep removed the peer's queue.
	ReasonEvicted AbortReason = "evicted"
)

// AbortedError represents a dial request terminated before completion.
type AbortedError struct {
	*BaseError
	Reason AbortReason
}

// NewAbortedError creates a new aborted error.
func NewAbortedError(reason AbortReason) *AbortedError {
	return &AbortedError{
		BaseError: &BaseError{
			code:    CodeAborted,
			message: "dial aborted",
			cause:   ErrAborted,
			stack:   captureStack(1),
		},
		Reason: reason,
	}
}

// Error implements the error interface.
func (e *AbortedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("dial aborted: %s", e.Reason)
	}
	return "dial aborted"
}

// SchedulerStoppedError represents a request submitted to a stopped scheduler.
type SchedulerStoppedError struct {
	*BaseError
	Peer string
}

// NewSchedulerStoppedError creates a new scheduler stopped error.
func NewSchedulerStoppedError(peer string) *SchedulerStoppedError {
	return &SchedulerStoppedError{
		BaseError: &BaseError{
			code:    CodeSchedulerStopped,
			message: "dial scheduler stopped",
			cause:   ErrSchedulerStopped,
			stack:   captureStack(1),
		},
		Peer: peer,
	}
}

// Error implements the error interface.
func (e *SchedulerStoppedError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("dial scheduler stopped: request for peer %s dropped", e.Peer)
	}
	return "dial scheduler stopped"
}

// NotFoundError represents a registry lookup miss.
type NotFoundError struct {
	*BaseError
	Peer string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(peer string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: "peer not found",
			cause:   ErrNotFound,
			stack:   captureStack(1),
		},
		Peer: peer,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("peer %s not found in registry", e.Peer)
	}
	return "peer not found"
}

// TimeoutError represents a dial attempt that timed out.
type TimeoutError struct {
	*BaseError
	Peer     string
	Duration string
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(peer, duration string) *TimeoutError {
	return &TimeoutError{
		BaseError: &BaseError{
			code:    CodeTimeout,
			message: "dial timeout",
			cause:   ErrTimeout,
			stack:   captureStack(1),
		},
		Peer:     peer,
		Duration: duration,
	}
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("dial to peer %s timed out after %s", e.Peer, e.Duration)
	}
	return "dial timeout"
}

// NetworkError represents a transport-level dial failure.
type NetworkError struct {
	*BaseError
	Peer string
}

// NewNetworkError creates a new network error.
func NewNetworkError(peer string, cause error) *NetworkError {
	return &NetworkError{
		BaseError: &BaseError{
			code:    CodeNetworkError,
			message: "dial failed",
			cause:   cause,
			stack:   captureStack(1),
		},
		Peer: peer,
	}
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the code
// and adds the cause chain. Otherwise, it creates an internal error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(Error); ok {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	return &BaseError{
		code:    CodeInternal,
		message: message,
		cause:   err,
		stack:   captureStack(1),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error with a message.
func New(message string) error {
	return &BaseError{
		code:    CodeInternal,
		message: message,
		stack:   captureStack(1),
	}
}

// Newf creates a new error with a formatted message.
func Newf(format string, args ...interface{}) error {
	return New(fmt.Sprintf(format, args...))
}
