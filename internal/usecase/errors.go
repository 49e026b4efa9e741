package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorEmptyResponse ErrorCode = "EMPTY_RESPONSE"
	ErrorSessionBusy   ErrorCode = "SESSION_BUSY"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded use case failure. Message is safe to show to end users;
// Reason and Err are for logs only.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, message string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Err: err}
}
