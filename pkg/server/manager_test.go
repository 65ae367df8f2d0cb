package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

func newTestManager(t *testing.T, config *SessionConfig) *SessionManager {
	t.Helper()
	broker := pubsub.New(&pubsub.Options{Registerer: prometheus.NewRegistry()})
	services := service.NewRegistry(broker, nil)
	t.Cleanup(services.Close)

	m := NewSessionManager(broker, services, counterTypes(), &SessionManagerOptions{
		Config: config,
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestManagerAttachReattaches(t *testing.T) {
	m := newTestManager(t, nil)

	r := httptest.NewRequest("GET", "/doc/1", nil)
	first := m.Attach(nil, r)
	if first.ID != "/doc/1" {
		t.Errorf("session id = %q, want /doc/1", first.ID)
	}
	if _, err := first.AddComponent(context.Background(), "c1", RootComponentID, "Counter", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	second := m.Attach(nil, httptest.NewRequest("GET", "/doc/1", nil))
	if second != first {
		t.Error("same path attached to a different session")
	}
	if m.Count() != 1 {
		t.Errorf("session count = %d, want 1", m.Count())
	}
	if second.ComponentCount() != 2 {
		t.Error("component tree lost across reattach")
	}

	other := m.Attach(nil, httptest.NewRequest("GET", "/doc/2", nil))
	if other == first {
		t.Error("distinct paths share a session")
	}
	if m.Count() != 2 {
		t.Errorf("session count = %d, want 2", m.Count())
	}
}

func TestManagerDestroy(t *testing.T) {
	m := newTestManager(t, nil)

	s := m.Attach(nil, httptest.NewRequest("GET", "/doc/1", nil))
	if err := m.Destroy(context.Background(), s.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if s.State() != StateDestroyed {
		t.Errorf("state = %v, want destroyed", s.State())
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("destroyed session still resident")
	}
	if err := m.Destroy(context.Background(), s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second destroy = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerEvictsIdleSessions(t *testing.T) {
	config := DefaultSessionConfig()
	config.IdleTTL = 10 * time.Millisecond
	m := newTestManager(t, config)

	idle := m.Attach(nil, httptest.NewRequest("GET", "/idle", nil))
	idle.detach(nil)

	active := m.Attach(nil, httptest.NewRequest("GET", "/active", nil))

	time.Sleep(30 * time.Millisecond)
	m.evictIdle()

	if _, ok := m.Get(idle.ID); ok {
		t.Error("idle disconnected session not evicted")
	}
	if idle.State() != StateDestroyed {
		t.Errorf("evicted session state = %v, want destroyed", idle.State())
	}
	if _, ok := m.Get(active.ID); !ok {
		t.Error("attached session evicted")
	}
}

func TestManagerCloseDestroysAll(t *testing.T) {
	m := newTestManager(t, nil)

	a := m.Attach(nil, httptest.NewRequest("GET", "/a", nil))
	b := m.Attach(nil, httptest.NewRequest("GET", "/b", nil))

	m.Close(context.Background())

	if m.Count() != 0 {
		t.Errorf("session count after close = %d, want 0", m.Count())
	}
	if a.State() != StateDestroyed || b.State() != StateDestroyed {
		t.Error("sessions survived manager close")
	}
}
