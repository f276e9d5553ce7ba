package core

import "errors"

// Error is the error type returned across appbridge package boundaries.
// Code is stable and meant for matching; Message is human readable.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so wrapped copies of a sentinel compare equal to it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// Error codes
const (
	CodeAlreadyInitialized    = "ALREADY_INITIALIZED"
	CodeInvalidIdentity       = "INVALID_IDENTITY"
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeBusRegistrationFailed = "BUS_REGISTRATION_FAILED"
	CodeTransport             = "TRANSPORT_ERROR"
	CodeMalformedPayload      = "MALFORMED_PAYLOAD"
	CodeCallbackPanic         = "CALLBACK_PANIC"
	CodeInvalidServiceName    = "INVALID_SERVICE_NAME"
	CodeInvalidMethod         = "INVALID_METHOD"
	CodeInvalidURI            = "INVALID_URI"
	CodeServiceNotFound       = "SERVICE_NOT_FOUND"
	CodeServiceExists         = "SERVICE_EXISTS"
	CodeHandleClosed          = "HANDLE_CLOSED"
	CodeNoReplyAddress        = "NO_REPLY_ADDRESS"
	CodeLoopClosed            = "LOOP_CLOSED"
	CodeLoopFull              = "LOOP_FULL"
)

// Errors
var (
	ErrAlreadyInitialized    = &Error{Code: CodeAlreadyInitialized, Message: "application already initialized"}
	ErrInvalidIdentity       = &Error{Code: CodeInvalidIdentity, Message: "application id cannot be empty"}
	ErrNotInitialized        = &Error{Code: CodeNotInitialized, Message: "application not initialized"}
	ErrBusRegistrationFailed = &Error{Code: CodeBusRegistrationFailed, Message: "failed to register bus service object"}
	ErrTransport             = &Error{Code: CodeTransport, Message: "bus transport failure"}
	ErrMalformedPayload      = &Error{Code: CodeMalformedPayload, Message: "malformed json payload"}
	ErrCallbackPanic         = &Error{Code: CodeCallbackPanic, Message: "lifecycle callback panicked"}
	ErrServiceNotFound       = &Error{Code: CodeServiceNotFound, Message: "service does not exist"}
	ErrServiceExists         = &Error{Code: CodeServiceExists, Message: "service name already registered"}
	ErrHandleClosed          = &Error{Code: CodeHandleClosed, Message: "bus handle is unregistered"}
	ErrNoReplyAddress        = &Error{Code: CodeNoReplyAddress, Message: "no reply address available"}
	ErrLoopClosed            = &Error{Code: CodeLoopClosed, Message: "event loop is closed"}
	ErrLoopFull              = &Error{Code: CodeLoopFull, Message: "event loop queue is full"}
)
