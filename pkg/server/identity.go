package server

import (
	"net"
	"net/http"

	"github.com/oklog/ulid/v2"
)

// IdentityStrategy derives a stable session identity from a connection.
// The choice governs whether a dropped connection reattaches to its prior
// session on reconnect.
type IdentityStrategy string

const (
	// IdentityPath keys sessions by the request path: reconnecting on the
	// same path reattaches.
	IdentityPath IdentityStrategy = "path"

	// IdentityConnectionID gives every socket a fresh opaque id: no
	// reattachment across reconnects.
	IdentityConnectionID IdentityStrategy = "connection_id"

	// IdentityRemoteAddr groups all connections from one network peer.
	IdentityRemoteAddr IdentityStrategy = "remote_address"
)

// Valid reports whether the strategy is one of the known values.
func (s IdentityStrategy) Valid() bool {
	switch s {
	case IdentityPath, IdentityConnectionID, IdentityRemoteAddr:
		return true
	}
	return false
}

// SessionID derives the session identity for an upgrade request.
func (s IdentityStrategy) SessionID(r *http.Request) string {
	switch s {
	case IdentityConnectionID:
		return ulid.Make().String()
	case IdentityRemoteAddr:
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	default:
		return r.URL.Path
	}
}
