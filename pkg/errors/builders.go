package errors

import (
	stderrors "errors"
	"fmt"
)

// NewConfigurationError reports an invalid CLI, unreadable input, or
// malformed workload/profile, surfaced before the simulation starts.
func NewConfigurationError(code ErrorCode, format string, args ...any) *BatsimError {
	return New(code, fmt.Sprintf(format, args...))
}

// NewProtocolError reports invalid message order, an unknown event tag, an
// ACK mismatch, or a non-zero EDC return code. The simulation aborts after
// flushing tracers.
func NewProtocolError(code ErrorCode, format string, args ...any) *BatsimError {
	return New(code, fmt.Sprintf(format, args...))
}

// NewInvariantViolation reports a duplicate job id, unknown job id at
// execute/kill, pstate classification contradiction, non-compute
// allocation, sharing violation, or non-multiple periods. details should
// name the offending identifiers.
func NewInvariantViolation(code ErrorCode, details string, format string, args ...any) *BatsimError {
	return New(code, fmt.Sprintf(format, args...)).WithDetails(details)
}

// NewSubTaskFailure wraps a non-zero return code bubbling up synchronously
// from inside a Sequence profile.
func NewSubTaskFailure(profileName string, returnCode int) *BatsimError {
	return New(ErrorCodeSubTaskFailure, fmt.Sprintf("sub-profile %q returned code %d", profileName, returnCode))
}

// IsInvariantViolation reports whether err is (or wraps) an invariant
// violation, for callers that need to distinguish abort reasons.
func IsInvariantViolation(err error) bool {
	var be *BatsimError
	if stderrors.As(err, &be) {
		return be.Category == CategoryInvariant
	}
	return false
}

// IsRetryable reports whether err is, or wraps, a *BatsimError marked
// retryable (see BatsimError.IsRetryable).
func IsRetryable(err error) bool {
	var be *BatsimError
	if stderrors.As(err, &be) {
		return be.IsRetryable()
	}
	return false
}

// Code extracts the ErrorCode from any error, returning ErrorCodeUnknown
// when err is not a *BatsimError.
func Code(err error) ErrorCode {
	var be *BatsimError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ErrorCodeUnknown
}
