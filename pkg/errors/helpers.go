package errors

import "errors"

// IsSchedulerStopped checks if an error indicates the scheduler was not
// running when the request was submitted.
func IsSchedulerStopped(err error) bool {
	if err == nil {
		return false
	}

	var stoppedErr *SchedulerStoppedError
	return errors.As(err, &stoppedErr) || errors.Is(err, ErrSchedulerStopped)
}

// IsAborted checks if an error indicates a dial request was terminated
// before completing.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}

	var abortedErr *AbortedError
	return errors.As(err, &abortedErr) || errors.Is(err, ErrAborted)
}

// AbortedReason extracts the abort reason, or "" when the error is not an
// abort.
func AbortedReason(err error) AbortReason {
	var abortedErr *AbortedError
	if errors.As(err, &abortedErr) {
		return abortedErr.Reason
	}
	return ""
}

// IsNotFound checks if an error indicates a registry lookup miss.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound)
}

// IsTimeout checks if an error indicates a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, ErrTimeout)
}

// IsBlacklisted checks if an error indicates a permanently blacklisted peer.
func IsBlacklisted(err error) bool {
	return err != nil && errors.Is(err, ErrBlacklisted)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	// Try to infer from sentinel errors
	switch {
	case IsSchedulerStopped(err):
		return CodeSchedulerStopped
	case IsAborted(err):
		return CodeAborted
	case IsNotFound(err):
		return CodeNotFound
	case IsTimeout(err):
		return CodeTimeout
	case IsBlacklisted(err):
		return CodeBlacklisted
	default:
		return CodeUnknown
	}
}

// GetErrorMessage extracts a human-readable message from an error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Message()
	}

	return err.Error()
}

// Cause returns the underlying cause of an error.
// It unwraps the error chain until it finds the root cause.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		underlying := unwrapper.Unwrap()
		if underlying == nil {
			return err
		}
		err = underlying
	}
}
