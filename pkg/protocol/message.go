package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// TopicSeparator joins hierarchical topic segments on the wire.
const TopicSeparator = ">"

// Client-to-server topics.
const (
	TopicAddComponent     = "add-component"
	TopicExecRPC          = "exec-rpc"
	TopicStoreSet         = "store-set"
	TopicDestroyComponent = "destroy-component"
)

// Server-to-client topics.
const (
	TopicAppState   = "app-state"
	TopicStoreValue = "store-value"
	TopicRPCResult  = "rpc-result"
)

// Topic is a message topic: a flat name or a hierarchical path whose
// segments are joined with TopicSeparator when serialized.
type Topic []string

// NewTopic builds a Topic from its segments.
func NewTopic(segments ...string) Topic {
	return Topic(segments)
}

// ParseTopic splits a wire topic string into its segments.
func ParseTopic(s string) Topic {
	return Topic(strings.Split(s, TopicSeparator))
}

// String returns the wire form of the topic.
func (t Topic) String() string {
	return strings.Join(t, TopicSeparator)
}

// Head returns the first segment, which selects the handling branch.
// Returns "" for an empty topic.
func (t Topic) Head() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Message is the wire-agnostic unit exchanged with a connection.
// RequestID is empty except for RPC calls and their results.
type Message struct {
	RequestID string
	Topic     Topic
	Payload   any
}

// StoreValueMessage builds the outbound message that mirrors one component
// property to the client.
func StoreValueMessage(componentID, property string, value any) *Message {
	return &Message{
		Topic:   NewTopic(TopicStoreValue, componentID, property),
		Payload: value,
	}
}

// AppStateMessage builds the full-state snapshot message sent once per
// (re)connection. The payload maps component id to its state.
func AppStateMessage(state map[string]map[string]any) *Message {
	return &Message{Topic: NewTopic(TopicAppState), Payload: state}
}

// RPCResultMessage builds the reply to an exec-rpc request. On success the
// payload is the raw return value; on failure it is an RPCError object.
func RPCResultMessage(requestID string, result any) *Message {
	return &Message{
		RequestID: requestID,
		Topic:     NewTopic(TopicRPCResult),
		Payload:   result,
	}
}

// RPCError is the payload of a failed rpc-result. It carries enough detail
// for the client to identify which call failed.
type RPCError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Method    string `json:"method,omitempty"`
}

// RPC error codes.
const (
	RPCCodeNotFound = "not_found"
	RPCCodeFailed   = "failed"
)

// ErrorPayload wraps an RPCError the way the wire expects it, under an
// "error" key so clients can distinguish failures from results.
func ErrorPayload(e *RPCError) map[string]any {
	return map[string]any{"error": e}
}

// Encode serializes the message to its wire form.
func Encode(m *Message) ([]byte, error) {
	var reqID any
	if m.RequestID != "" {
		reqID = m.RequestID
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// The topic separator must reach the wire as a literal ">", not the
	// HTML-safe escape json.Marshal emits.
	enc.SetEscapeHTML(false)
	if err := enc.Encode([3]any{reqID, m.Topic.String(), m.Payload}); err != nil {
		return nil, fmt.Errorf("protocol: encode %q: %w", m.Topic.String(), err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a wire message. Errors are protocol violations: callers
// log and skip the offending message.
func Decode(data []byte) (*Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("protocol: decode: expected 3 fields, got %d", len(raw))
	}

	m := &Message{}

	if string(raw[0]) != "null" {
		if err := json.Unmarshal(raw[0], &m.RequestID); err != nil {
			return nil, fmt.Errorf("protocol: decode request id: %w", err)
		}
	}

	var topic string
	if err := json.Unmarshal(raw[1], &topic); err != nil {
		return nil, fmt.Errorf("protocol: decode topic: %w", err)
	}
	m.Topic = ParseTopic(topic)

	if err := json.Unmarshal(raw[2], &m.Payload); err != nil {
		return nil, fmt.Errorf("protocol: decode payload: %w", err)
	}
	return m, nil
}
