package server

// System event names dispatched on the session's own event queue.
const (
	EventSessionConnect    = "$session_connect"
	EventSessionDisconnect = "$session_disconnect"
)

// ServerEvent is a session-level system event (connect, disconnect).
// Handlers for these take no event payload.
type ServerEvent struct {
	Name string
}

// ComponentEvent is a local event dispatched by a component to handlers
// registered with its session.
type ComponentEvent struct {
	Name   string
	Source *Component
	Data   any
}
