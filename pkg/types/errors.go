package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a closed machine-readable error identifier shared between the
// gateway and its clients. User-class and operator-class codes are disjoint
// except INVALID_CONFIG, which is user-class when raised by a settings patch
// and operator-class when raised at boot.
type ErrorCode string

// User-class codes. Safe to return verbatim with a 4xx status.
const (
	CodeInvalidContentType ErrorCode = "INVALID_CONTENT_TYPE"
	CodeInvalidAudio       ErrorCode = "INVALID_AUDIO"
	CodeAudioTooLarge      ErrorCode = "AUDIO_TOO_LARGE"
	CodeInvalidConfig      ErrorCode = "INVALID_CONFIG"
	CodeCORSRejected       ErrorCode = "CORS_REJECTED"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeNotReady           ErrorCode = "NOT_READY"
	CodeOpenClawTimeout    ErrorCode = "OPENCLAW_TIMEOUT"
	CodeOpenClawSession    ErrorCode = "OPENCLAW_SESSION_ERROR"
)

// Operator-class codes. Reported as a generic 5xx; full detail is logged.
const (
	CodeMissingConfig       ErrorCode = "MISSING_CONFIG"
	CodeOpenClawUnavailable ErrorCode = "OPENCLAW_UNAVAILABLE"
	CodeSTTUnavailable      ErrorCode = "STT_UNAVAILABLE"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// UserError is a request failure whose message is safe to show to the end
// user. The HTTP plane maps it to a 4xx status (429 for RATE_LIMITED, 403
// for CORS_REJECTED, 503 for NOT_READY, 502 for the OpenClaw codes, 400
// otherwise).
type UserError struct {
	Code    ErrorCode
	Message string
	// Cause is the underlying error, if any. Never included in the HTTP
	// response body; surfaced only through logs.
	Cause error
}

// NewUserError builds a UserError with a plain message.
func NewUserError(code ErrorCode, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *UserError) Unwrap() error { return e.Cause }

// OperatorError is an internal failure. Its message is an operator
// diagnostic and must never reach the HTTP response body; the plane answers
// with a generic message plus the code.
type OperatorError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewOperatorError builds an OperatorError with a plain message.
func NewOperatorError(code ErrorCode, message string) *OperatorError {
	return &OperatorError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *OperatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *OperatorError) Unwrap() error { return e.Cause }

// AsUserError extracts the user-class error from err, if present.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// AsOperatorError extracts the operator-class error from err, if present.
func AsOperatorError(err error) (*OperatorError, bool) {
	var oe *OperatorError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
