package pubsub

// DefaultPriority is the delivery priority for events that do not ask for
// anything else. Lower values are delivered first.
const DefaultPriority = 1

// Event is a service event flowing through the broker. Events are
// immutable once published: publishers must not modify an Event after
// handing it to Publish.
type Event struct {
	// Name is the event name; subscribers subscribe to it as a topic.
	Name string

	// Source identifies the emitting service or component.
	Source string

	// Data is the event payload, opaque to the broker.
	Data any

	// Priority orders delivery within one subscriber's queue. Lower
	// values are delivered first; equal priorities preserve publish
	// order.
	Priority int
}

// NewEvent builds an Event with the default priority.
func NewEvent(name, source string, data any) *Event {
	return &Event{Name: name, Source: source, Data: data, Priority: DefaultPriority}
}
