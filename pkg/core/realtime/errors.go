package realtime

import (
	"fmt"
)

// ErrorKind categorizes session errors.
type ErrorKind string

const (
	ErrConnection    ErrorKind = "connection_error"
	ErrNotConnected  ErrorKind = "not_connected_error"
	ErrProtocol      ErrorKind = "protocol_error"
	ErrUnknownTool   ErrorKind = "unknown_tool_error"
	ErrNotFound      ErrorKind = "not_found_error"
	ErrInvalidState  ErrorKind = "invalid_state_error"
	ErrToolExecution ErrorKind = "tool_execution_error"
)

// Error is the error type surfaced by the realtime session core.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match with errors.Is on a bare
// &Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsKind reports whether err is a session error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: ErrConnection, Message: message, Err: err}
}

// NewNotConnectedError creates an error for operations that need a live socket.
func NewNotConnectedError(message string) *Error {
	return &Error{Kind: ErrNotConnected, Message: message}
}

// NewProtocolError creates an error for malformed or unexpected payloads.
func NewProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrProtocol, Message: message, Err: err}
}

// NewUnknownToolError creates an error for a tool name with no registration.
func NewUnknownToolError(name string) *Error {
	return &Error{Kind: ErrUnknownTool, Message: fmt.Sprintf("tool %q has not been added", name)}
}

// NewNotFoundError creates an error for a missing conversation item.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// NewInvalidStateError creates an error for an operation applied to an
// item or session in the wrong state.
func NewInvalidStateError(message string) *Error {
	return &Error{Kind: ErrInvalidState, Message: message}
}

// NewToolExecutionError wraps a failure raised by a tool handler.
func NewToolExecutionError(name string, err error) *Error {
	return &Error{Kind: ErrToolExecution, Message: fmt.Sprintf("tool %q failed", name), Err: err}
}
