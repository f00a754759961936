package hrlive

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an *Error.
type ErrorCode int

const (
	// Parsed from server error frames
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorBadRequest
	ErrorNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Raised locally
	ErrorConnection
	ErrorDisconnected
	ErrorReconnectExhausted
	ErrorFetch
	ErrorDataShape
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorAlreadyConnected
	ErrorClosed
	ErrorSerialization
)

// String returns the snake_case name used in logs.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorNotFound:
		return "not_found"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorReconnectExhausted:
		return "reconnect_exhausted"
	case ErrorFetch:
		return "fetch_error"
	case ErrorDataShape:
		return "data_shape"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorAlreadyConnected:
		return "already_connected"
	case ErrorClosed:
		return "closed"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode maps the code of a server error frame. Unrecognized codes
// become ErrorUnknown.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "bad_request", "invalid_message":
		return ErrorBadRequest
	case "not_found", "user_not_found":
		return ErrorNotFound
	case "access_denied", "forbidden":
		return ErrorAccessDenied
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// Error is the error type returned across the package API.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError returns an *Error without a cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError returns an *Error caused by err.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// Sentinels for errors.Is comparisons; only the code is compared.
var (
	ErrNotConnected       = NewError(ErrorNotConnected, "not connected")
	ErrAlreadyConnected   = NewError(ErrorAlreadyConnected, "already connected")
	ErrClosed             = NewError(ErrorClosed, "closed")
	ErrFetch              = NewError(ErrorFetch, "fetch failed")
	ErrDataShape          = NewError(ErrorDataShape, "unexpected payload shape")
	ErrReconnectExhausted = NewError(ErrorReconnectExhausted, "reconnect attempts exhausted")
)

// FromProtocolError converts a protocol error frame to Error.
func FromProtocolError(e *ProtocolError) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// CodeOf returns the code of err, or ErrorUnknown if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsProtocolError reports errors that came from a server error frame.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code >= ErrorUnauthorized && e.Code <= ErrorInternalServer
}

// IsConnectionError reports transport failures.
// These are retried by ConnectionManager and shown as connection status only.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorReconnectExhausted:
		return true
	default:
		return false
	}
}
