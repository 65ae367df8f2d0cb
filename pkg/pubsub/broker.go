package pubsub

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Broker is the process-wide router. Subscriber ids are opaque strings:
// components register as "sessionID/componentID", services under their
// service name.
type Broker struct {
	mu sync.Mutex

	// channel -> topic -> subscriber set
	subscribers map[string]map[string]map[string]struct{}

	// channel -> room -> member set
	rooms map[string]map[string]map[string]struct{}

	// subscriber id -> delivery queue
	queues map[string]*Queue

	logger  *slog.Logger
	metrics *brokerMetrics
}

// Options configures a Broker. The zero value is usable.
type Options struct {
	// Logger receives broker diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Registerer is the Prometheus registry for broker metrics.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// New creates a Broker.
func New(opts *Options) *Broker {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Broker{
		subscribers: make(map[string]map[string]map[string]struct{}),
		rooms:       make(map[string]map[string]map[string]struct{}),
		queues:      make(map[string]*Queue),
		logger:      logger.With("component", "broker"),
		metrics:     newBrokerMetrics(reg),
	}
}

// Register binds a subscriber id to its delivery queue. Registering the
// same id again replaces the previous queue.
func (b *Broker) Register(id string, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[id]; !ok {
		b.metrics.subscribers.Inc()
	}
	b.queues[id] = q
}

// Subscribe adds the subscriber to a topic's set. The first subscription
// that creates a topic under a channel re-applies room membership: every
// current room member of that channel is added to the new topic, so rooms
// stay complete over the channel's whole topic set.
func (b *Broker) Subscribe(id, channel, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics, ok := b.subscribers[channel]
	if !ok {
		topics = make(map[string]map[string]struct{})
		b.subscribers[channel] = topics
	}
	set, ok := topics[topic]
	if !ok {
		set = make(map[string]struct{})
		topics[topic] = set
		for _, members := range b.rooms[channel] {
			for member := range members {
				set[member] = struct{}{}
			}
		}
	}
	set[id] = struct{}{}
}

// Unsubscribe removes the subscriber from a topic's set.
func (b *Broker) Unsubscribe(id, channel, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topics, ok := b.subscribers[channel]; ok {
		delete(topics[topic], id)
	}
}

// JoinRoom adds the subscriber to a room and subscribes it to every topic
// currently known on the room's channel.
func (b *Broker) JoinRoom(id, channel, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms, ok := b.rooms[channel]
	if !ok {
		rooms = make(map[string]map[string]struct{})
		b.rooms[channel] = rooms
	}
	members, ok := rooms[room]
	if !ok {
		members = make(map[string]struct{})
		rooms[room] = members
	}
	members[id] = struct{}{}

	for _, set := range b.subscribers[channel] {
		set[id] = struct{}{}
	}
}

// LeaveRoom removes the subscriber's room membership and removes it from
// every topic under the room's channel.
func (b *Broker) LeaveRoom(id, channel, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rooms, ok := b.rooms[channel]; ok {
		delete(rooms[room], id)
	}
	for _, set := range b.subscribers[channel] {
		delete(set, id)
	}
}

// PublishOption narrows or widens the recipient set of a Publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	rooms      []string
	recipients []string
	exclude    []string
}

// ToRooms restricts delivery to members of the given rooms (unioned with
// any explicit recipients).
func ToRooms(rooms ...string) PublishOption {
	return func(o *publishOptions) { o.rooms = append(o.rooms, rooms...) }
}

// ToRecipients restricts delivery to the given subscriber ids (unioned
// with any room members).
func ToRecipients(ids ...string) PublishOption {
	return func(o *publishOptions) { o.recipients = append(o.recipients, ids...) }
}

// Exclude removes the given subscriber ids from the resolved set.
func Exclude(ids ...string) PublishOption {
	return func(o *publishOptions) { o.exclude = append(o.exclude, ids...) }
}

// Publish delivers the event to every subscriber of channel/event.Name,
// intersected with the union of room members and explicit recipients when
// either is given, minus any excluded ids. Ids without a registered queue
// are skipped silently: subscribers may quit concurrently with a publish.
func (b *Broker) Publish(channel string, ev *Event, opts ...PublishOption) {
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.published.Inc()

	set := b.subscribers[channel][ev.Name]
	if len(set) == 0 {
		return
	}

	var allowed map[string]struct{}
	if len(po.rooms) > 0 || len(po.recipients) > 0 {
		allowed = make(map[string]struct{}, len(po.recipients))
		for _, id := range po.recipients {
			allowed[id] = struct{}{}
		}
		for _, room := range po.rooms {
			for member := range b.rooms[channel][room] {
				allowed[member] = struct{}{}
			}
		}
	}

	excluded := make(map[string]struct{}, len(po.exclude))
	for _, id := range po.exclude {
		excluded[id] = struct{}{}
	}

	for id := range set {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		q, ok := b.queues[id]
		if !ok {
			b.metrics.dropped.Inc()
			continue
		}
		q.Push(ev)
		b.metrics.delivered.Inc()
	}
}

// Quit removes the subscriber from all rooms and topics, optionally scoped
// to a single channel, and deletes its queue registration. Safe to call
// concurrently with an in-flight Publish.
func (b *Broker) Quit(id string, channel ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(channel) > 0 {
		ch := channel[0]
		for _, members := range b.rooms[ch] {
			delete(members, id)
		}
		for _, set := range b.subscribers[ch] {
			delete(set, id)
		}
	} else {
		for _, rooms := range b.rooms {
			for _, members := range rooms {
				delete(members, id)
			}
		}
		for _, topics := range b.subscribers {
			for _, set := range topics {
				delete(set, id)
			}
		}
	}

	if _, ok := b.queues[id]; ok {
		delete(b.queues, id)
		b.metrics.subscribers.Dec()
	}
}

// Registered reports whether the id currently has a delivery queue.
func (b *Broker) Registered(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[id]
	return ok
}
