package playchat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol Errors (from relay error envelopes)
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorInvalidMessage
	ErrorBadRequest
	ErrorUserNotFound
	ErrorRateLimited
	ErrorInternalServer

	// Client-side Errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorClosed
	ErrorSerialization
	ErrorRequestFailed

	// Conversation Errors
	ErrorEmptyMessage
	ErrorNoPeer
	ErrorSendInFlight
	ErrorSendFailed
	ErrorUnknownMessage
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorUserNotFound:
		return "user_not_found"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorClosed:
		return "closed"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorRequestFailed:
		return "request_failed"
	case ErrorEmptyMessage:
		return "empty_message"
	case ErrorNoPeer:
		return "no_peer"
	case ErrorSendInFlight:
		return "send_in_flight"
	case ErrorSendFailed:
		return "send_failed"
	case ErrorUnknownMessage:
		return "unknown_message"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "invalid_message":
		return ErrorInvalidMessage
	case "bad_request":
		return ErrorBadRequest
	case "user_not_found":
		return ErrorUserNotFound
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// PlaychatError is a structured error with code and context.
type PlaychatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *PlaychatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *PlaychatError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a *PlaychatError with the same code.
func (e *PlaychatError) Is(target error) bool {
	t, ok := target.(*PlaychatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new PlaychatError with the given code and message.
func NewError(code ErrorCode, message string) *PlaychatError {
	return &PlaychatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a PlaychatError.
func WrapError(code ErrorCode, message string, err error) *PlaychatError {
	return &PlaychatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a relay error envelope to PlaychatError.
func FromProtocolError(e *Error) *PlaychatError {
	if e == nil {
		return nil
	}
	return &PlaychatError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var pe *PlaychatError
	for err != nil {
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Wrapped
	}
	return false
}

// IsProtocolError checks if an error is a protocol error (from relay).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pe *PlaychatError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code >= ErrorUnauthorized && pe.Code <= ErrorInternalServer
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pe *PlaychatError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == ErrorConnection || pe.Code == ErrorDisconnected || pe.Code == ErrorTimeout
}

// IsRejected reports whether a send was refused locally before any request
// was issued (empty text, no peer, or a send already in flight).
func IsRejected(err error) bool {
	return HasCode(err, ErrorEmptyMessage) || HasCode(err, ErrorNoPeer) || HasCode(err, ErrorSendInFlight)
}
