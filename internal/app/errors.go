package app

import "fmt"

// Codes reported to clients in the error event.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeInvalidCallRequest   = "INVALID_CALL_REQUEST"
	CodeUnknownCall          = "UNKNOWN_CALL"
	CodeMissingField         = "MISSING_FIELD"
	CodeBadPayload           = "BAD_PAYLOAD"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeInvalidSignal        = "INVALID_SIGNAL"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

// Error is a user-facing failure. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAuthenticationFailed = &Error{Code: CodeAuthenticationFailed}
	ErrInvalidCallRequest   = &Error{Code: CodeInvalidCallRequest}
	ErrUnknownCall          = &Error{Code: CodeUnknownCall}
	ErrMissingField         = &Error{Code: CodeMissingField}
	ErrBadPayload           = &Error{Code: CodeBadPayload}
	ErrUnknownEvent         = &Error{Code: CodeUnknownEvent}
	ErrInvalidSignal        = &Error{Code: CodeInvalidSignal}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrInternal             = &Error{Code: CodeInternal}
)

func Errorf(code string, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}
