package server

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/streamjam/streamjam/pkg/protocol"
)

// ReadLoop continuously reads wire messages from one transport and
// dispatches them. It blocks until the connection closes or errors; any
// exit is converted into a disconnect event, never an unhandled failure.
func (s *Session) ReadLoop(conn *websocket.Conn) {
	defer s.detach(conn)

	conn.SetReadLimit(s.config.MaxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		s.touch()
		if s.metrics != nil {
			s.metrics.messagesIn.Inc()
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Protocol violation: skip the offending message, keep the
			// session alive.
			s.logger.Error("message decode failed", "error", err)
			continue
		}
		s.handleMessage(msg)
	}
}

// handleMessage switches on the topic's handling branch. RPC execution
// and component destruction run as independent tasks so a slow call never
// blocks subsequent messages.
func (s *Session) handleMessage(m *protocol.Message) {
	ctx := s.tasks.Context()

	switch m.Topic.Head() {
	case protocol.TopicAddComponent:
		ac, err := protocol.ParseAddComponent(m.Payload)
		if err != nil {
			s.logger.Error("bad add-component payload", "error", err)
			return
		}
		if _, err := s.AddComponent(ctx, ac.ComponentID, ac.ParentID, ac.Type, ac.Props); err != nil {
			s.logger.Error("add component failed", "component", ac.ComponentID, "error", err)
		}

	case protocol.TopicExecRPC:
		er, err := protocol.ParseExecRPC(m.Payload)
		if err != nil {
			s.logger.Error("bad exec-rpc payload", "error", err)
			return
		}
		if m.RequestID == "" {
			s.logger.Error("exec-rpc without request id", "component", er.ComponentID, "method", er.Method)
			return
		}
		requestID := m.RequestID
		s.tasks.Go("rpc "+er.ComponentID+"."+er.Method, func(ctx context.Context) {
			s.ExecRPC(ctx, requestID, er.ComponentID, er.Method, er.Args)
		})

	case protocol.TopicStoreSet:
		ss, err := protocol.ParseStoreSet(m.Payload)
		if err != nil {
			s.logger.Error("bad store-set payload", "error", err)
			return
		}
		if err := s.SetStore(ctx, ss.ComponentID, ss.Property, ss.Value); err != nil {
			s.logger.Error("store set failed", "component", ss.ComponentID, "error", err)
		}

	case protocol.TopicDestroyComponent:
		id, err := protocol.ParseDestroyComponent(m.Payload)
		if err != nil {
			s.logger.Error("bad destroy-component payload", "error", err)
			return
		}
		s.tasks.Go("destroy "+id, func(ctx context.Context) {
			if err := s.DestroyComponent(ctx, id); err != nil {
				s.logger.Error("destroy component failed", "component", id, "error", err)
			}
		})

	default:
		s.logger.Warn("unknown topic", "topic", m.Topic.String())
	}
}
