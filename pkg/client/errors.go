package client

import (
	"errors"
	"fmt"

	"github.com/streamjam/streamjam/pkg/protocol"
)

var (
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("client: already connected")

	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("client: closed")
)

// CallError is a server-reported RPC failure.
type CallError struct {
	RPC *protocol.RPCError
}

// Error returns the failure description.
func (e *CallError) Error() string {
	return fmt.Sprintf("client: rpc %s.%s failed: %s (%s)",
		e.RPC.Component, e.RPC.Method, e.RPC.Message, e.RPC.Code)
}

// NotFound reports whether the server could not resolve the component or
// method.
func (e *CallError) NotFound() bool {
	return e.RPC.Code == protocol.RPCCodeNotFound
}
