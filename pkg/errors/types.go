// Package errors provides the structured error taxonomy used across the
// simulation core: ConfigurationError, ProtocolError, InvariantViolation,
// and SubTaskFailure. WalltimeReached is deliberately not an
// error type here — it is a normal terminal job state.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode identifies the specific failure within its category.
type ErrorCode string

const (
	// Configuration errors: invalid CLI, unreadable inputs, malformed workload/profile.
	ErrorCodeInvalidCLI         ErrorCode = "INVALID_CLI"
	ErrorCodeUnreadableInput    ErrorCode = "UNREADABLE_INPUT"
	ErrorCodeMalformedWorkload  ErrorCode = "MALFORMED_WORKLOAD"
	ErrorCodeMalformedProfile   ErrorCode = "MALFORMED_PROFILE"
	ErrorCodeMissingMaster      ErrorCode = "MISSING_MASTER"
	ErrorCodeDuplicateMaster    ErrorCode = "DUPLICATE_MASTER"

	// Protocol errors: invalid message order, unknown tag, ACK mismatch, EDC non-zero return.
	ErrorCodeInvalidMessageOrder ErrorCode = "INVALID_MESSAGE_ORDER"
	ErrorCodeUnknownEventTag     ErrorCode = "UNKNOWN_EVENT_TAG"
	ErrorCodeAckMismatch         ErrorCode = "ACK_MISMATCH"
	ErrorCodeEDCFailure          ErrorCode = "EDC_FAILURE"
	ErrorCodeRegistrationClosed  ErrorCode = "REGISTRATION_CLOSED"

	// Invariant violations: duplicate job id, unknown job id, pstate contradictions,
	// non-compute allocation, sharing violation, non-multiple periods.
	ErrorCodeDuplicateJobID      ErrorCode = "DUPLICATE_JOB_ID"
	ErrorCodeUnknownJobID        ErrorCode = "UNKNOWN_JOB_ID"
	ErrorCodePStateContradiction ErrorCode = "PSTATE_CONTRADICTION"
	ErrorCodeNonComputeAlloc     ErrorCode = "NON_COMPUTE_ALLOCATION"
	ErrorCodeSharingViolation    ErrorCode = "SHARING_VIOLATION"
	ErrorCodeNonMultiplePeriods  ErrorCode = "NON_MULTIPLE_PERIODS"

	// Sub-task failure: non-zero return code inside a Sequence profile.
	ErrorCodeSubTaskFailure ErrorCode = "SUBTASK_FAILURE"

	ErrorCodeUnknown ErrorCode = "UNKNOWN"
)

// ErrorCategory groups codes into four families.
type ErrorCategory string

const (
	CategoryConfiguration    ErrorCategory = "CONFIGURATION"
	CategoryProtocol         ErrorCategory = "PROTOCOL"
	CategoryInvariant        ErrorCategory = "INVARIANT"
	CategorySubTaskFailure   ErrorCategory = "SUBTASK_FAILURE"
	CategoryUnknown          ErrorCategory = "UNKNOWN"
)

// BatsimError is the structured error type returned across the core.
type BatsimError struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Retryable bool          `json:"retryable"`
	Cause     error         `json:"-"`
}

func (e *BatsimError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BatsimError) Unwrap() error { return e.Cause }

func (e *BatsimError) Is(target error) bool {
	if t, ok := target.(*BatsimError); ok {
		return e.Code == t.Code
	}
	return false
}

// IsRetryable reports whether the failing operation may be retried, which
// is true for every error built with ErrorCodeEDCFailure, whatever its
// cause, and false for every other code.
func (e *BatsimError) IsRetryable() bool { return e.Retryable }

func categoryOf(code ErrorCode) ErrorCategory {
	switch code {
	case ErrorCodeInvalidCLI, ErrorCodeUnreadableInput, ErrorCodeMalformedWorkload,
		ErrorCodeMalformedProfile, ErrorCodeMissingMaster, ErrorCodeDuplicateMaster:
		return CategoryConfiguration
	case ErrorCodeInvalidMessageOrder, ErrorCodeUnknownEventTag, ErrorCodeAckMismatch,
		ErrorCodeEDCFailure, ErrorCodeRegistrationClosed:
		return CategoryProtocol
	case ErrorCodeDuplicateJobID, ErrorCodeUnknownJobID, ErrorCodePStateContradiction,
		ErrorCodeNonComputeAlloc, ErrorCodeSharingViolation, ErrorCodeNonMultiplePeriods:
		return CategoryInvariant
	case ErrorCodeSubTaskFailure:
		return CategorySubTaskFailure
	default:
		return CategoryUnknown
	}
}

func retryableCode(code ErrorCode) bool {
	return code == ErrorCodeEDCFailure
}

// New creates a BatsimError for code, classifying its category automatically.
func New(code ErrorCode, message string) *BatsimError {
	return &BatsimError{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableCode(code),
	}
}

// Wrap creates a BatsimError around an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *BatsimError {
	err := New(code, message)
	err.Cause = cause
	return err
}

// WithDetails attaches a details string naming the offending identifiers,
// for invariant-violation diagnostics.
func (e *BatsimError) WithDetails(details string) *BatsimError {
	e.Details = details
	return e
}
