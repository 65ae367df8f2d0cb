package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// destroyed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrComponentNotFound is returned when a component id is not in the
	// session's table.
	ErrComponentNotFound = errors.New("server: component not found")

	// ErrComponentExists is returned when adding a component whose id is
	// already taken within the session.
	ErrComponentExists = errors.New("server: component id already exists")

	// ErrParentNotFound is returned when a component's parent id is not
	// already present in the session's table.
	ErrParentNotFound = errors.New("server: parent component not found")

	// ErrTypeNotRegistered is returned when a component type name does not
	// resolve in the type registry.
	ErrTypeNotRegistered = errors.New("server: component type not registered")

	// ErrRPCNotFound is returned when an RPC name does not resolve to a
	// method flagged as RPC-exposed.
	ErrRPCNotFound = errors.New("server: rpc method not found")

	// ErrConnectionClosed is returned when sending on a dead connection.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrNoConnection is returned when the session has no attached
	// transport.
	ErrNoConnection = errors.New("server: no connection")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Op: op, Err: err}
}
