package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

func newSessionHarness(t *testing.T, types *TypeRegistry) (*Session, *pubsub.Broker) {
	t.Helper()
	broker := pubsub.New(&pubsub.Options{Registerer: prometheus.NewRegistry()})
	services := service.NewRegistry(broker, nil)
	t.Cleanup(services.Close)

	s := newSession("/test", broker, services, types, DefaultSessionConfig(), nil, nil, nil)
	t.Cleanup(func() { s.destroy(context.Background()) })
	return s, broker
}

func counterTypes() *TypeRegistry {
	types := NewTypeRegistry()
	types.Register(&ComponentDef{
		Type: "Counter",
		Props: []PropSpec{
			{Name: "count", Default: 0},
			{Name: "label", Default: "untitled"},
		},
		RPC: map[string]RPCFunc{
			"increment": func(ctx context.Context, c *Component, args []any) (any, error) {
				n := c.GetInt("count") + 1
				c.Set("count", n)
				return n, nil
			},
		},
	})
	return types
}

func TestAddComponentDefaultsAndProps(t *testing.T) {
	s, broker := newSessionHarness(t, counterTypes())

	c, err := s.AddComponent(context.Background(), "c1", RootComponentID, "Counter",
		map[string]any{"label": "clicks"})
	if err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	if got := c.GetInt("count"); got != 0 {
		t.Errorf("count = %d, want declared default 0", got)
	}
	if got := c.Get("label"); got != "clicks" {
		t.Errorf("label = %v, want initial prop", got)
	}
	if s.ComponentCount() != 2 {
		t.Errorf("component count = %d, want 2", s.ComponentCount())
	}
	if !broker.Registered("/test/c1") {
		t.Error("component not registered with broker")
	}
}

func TestAddComponentFailures(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())
	ctx := context.Background()

	if _, err := s.AddComponent(ctx, "c1", RootComponentID, "Missing", nil); !errors.Is(err, ErrTypeNotRegistered) {
		t.Errorf("unknown type = %v, want ErrTypeNotRegistered", err)
	}

	if _, err := s.AddComponent(ctx, "c1", RootComponentID, "Counter", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if _, err := s.AddComponent(ctx, "c1", RootComponentID, "Counter", nil); !errors.Is(err, ErrComponentExists) {
		t.Errorf("duplicate id = %v, want ErrComponentExists", err)
	}

	before := s.ComponentCount()
	if _, err := s.AddComponent(ctx, "c2", "ghost", "Counter", nil); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("unknown parent = %v, want ErrParentNotFound", err)
	}
	if s.ComponentCount() != before {
		t.Error("failed add mutated the component table")
	}
}

func TestAddComponentMountFailureRollsBack(t *testing.T) {
	types := NewTypeRegistry()
	types.Register(&ComponentDef{
		Type: "Broken",
		OnMount: func(ctx context.Context, c *Component) error {
			return errors.New("mount failed")
		},
	})
	s, broker := newSessionHarness(t, types)

	if _, err := s.AddComponent(context.Background(), "b1", RootComponentID, "Broken", nil); err == nil {
		t.Fatal("AddComponent succeeded despite mount failure")
	}
	if _, ok := s.Component("b1"); ok {
		t.Error("failed component left in the table")
	}
	if broker.Registered("/test/b1") {
		t.Error("failed component left registered with broker")
	}
}

func TestDestroyComponentCascade(t *testing.T) {
	var mu sync.Mutex
	var order []string
	types := NewTypeRegistry()
	types.Register(&ComponentDef{
		Type: "Node",
		OnDestroy: func(ctx context.Context, c *Component) error {
			mu.Lock()
			order = append(order, c.ID())
			mu.Unlock()
			return nil
		},
	})
	s, broker := newSessionHarness(t, types)
	ctx := context.Background()

	for _, pair := range [][2]string{
		{"a", RootComponentID}, {"b", "a"}, {"c", "a"}, {"d", "b"},
	} {
		if _, err := s.AddComponent(ctx, pair[0], pair[1], "Node", nil); err != nil {
			t.Fatalf("AddComponent %s: %v", pair[0], err)
		}
	}

	if err := s.DestroyComponent(ctx, "a"); err != nil {
		t.Fatalf("DestroyComponent: %v", err)
	}

	if s.ComponentCount() != 1 {
		t.Errorf("component count = %d, want root only", s.ComponentCount())
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, ok := s.Component(id); ok {
			t.Errorf("component %s survived cascade", id)
		}
		if broker.Registered("/test/" + id) {
			t.Errorf("component %s still registered with broker", id)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if len(order) != 4 {
		t.Fatalf("destroy hooks ran for %v, want 4 components", order)
	}
	if pos["d"] > pos["b"] || pos["b"] > pos["a"] || pos["c"] > pos["a"] {
		t.Errorf("children destroyed after parent: %v", order)
	}
}

func TestDestroyComponentErrors(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())
	ctx := context.Background()

	if err := s.DestroyComponent(ctx, RootComponentID); !errors.Is(err, ErrComponentNotFound) {
		t.Errorf("destroy root = %v, want ErrComponentNotFound", err)
	}
	if err := s.DestroyComponent(ctx, "ghost"); !errors.Is(err, ErrComponentNotFound) {
		t.Errorf("destroy unknown = %v, want ErrComponentNotFound", err)
	}
}

func TestSetStoreDirectWrite(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())
	ctx := context.Background()

	c, err := s.AddComponent(ctx, "c1", RootComponentID, "Counter", nil)
	if err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	if err := s.SetStore(ctx, "c1", "count", float64(42)); err != nil {
		t.Fatalf("SetStore: %v", err)
	}
	if got := c.GetInt("count"); got != 42 {
		t.Errorf("count = %d, want 42", got)
	}

	if err := s.SetStore(ctx, "ghost", "count", 1); !errors.Is(err, ErrComponentNotFound) {
		t.Errorf("SetStore unknown component = %v, want ErrComponentNotFound", err)
	}
}

func TestSetStoreHandlerRewritesValue(t *testing.T) {
	types := NewTypeRegistry()
	types.Register(&ComponentDef{
		Type:  "Gauge",
		Props: []PropSpec{{Name: "level", Default: 0}},
		OnStoreUpdate: map[string]StoreUpdateFunc{
			"level": func(ctx context.Context, c *Component, value any) (any, error) {
				// Clamp to 100.
				if n, ok := value.(float64); ok && n > 100 {
					return float64(100), nil
				}
				return value, nil
			},
		},
	})
	s, _ := newSessionHarness(t, types)
	ctx := context.Background()

	c, err := s.AddComponent(ctx, "g1", RootComponentID, "Gauge", nil)
	if err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := s.SetStore(ctx, "g1", "level", float64(250)); err != nil {
		t.Fatalf("SetStore: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.GetInt("level") != 100 {
		if time.Now().After(deadline) {
			t.Fatalf("level = %d, want clamped 100", c.GetInt("level"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInvokeRPCErrors(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())
	ctx := context.Background()

	if _, err := s.AddComponent(ctx, "c1", RootComponentID, "Counter", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	_, err := s.invoke(ctx, &RPCInfo{ComponentID: "c1", Method: "missing"}, nil)
	if !errors.Is(err, ErrRPCNotFound) {
		t.Errorf("unknown method = %v, want ErrRPCNotFound", err)
	}

	_, err = s.invoke(ctx, &RPCInfo{ComponentID: "ghost", Method: "increment"}, nil)
	if !errors.Is(err, ErrComponentNotFound) {
		t.Errorf("unknown component = %v, want ErrComponentNotFound", err)
	}
}

func TestComponentEventDispatch(t *testing.T) {
	got := make(chan any, 1)
	types := NewTypeRegistry()
	types.Register(&ComponentDef{Type: "Emitter"})
	types.Register(&ComponentDef{
		Type: "Listener",
		OnEvent: map[string]EventFunc{
			"ping": func(ctx context.Context, c *Component, ev *ComponentEvent) {
				got <- ev.Data
			},
		},
	})
	s, _ := newSessionHarness(t, types)
	ctx := context.Background()

	emitter, err := s.AddComponent(ctx, "e1", RootComponentID, "Emitter", nil)
	if err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if _, err := s.AddComponent(ctx, "l1", RootComponentID, "Listener", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	emitter.Dispatch("ping", "hello")

	select {
	case data := <-got:
		if data != "hello" {
			t.Errorf("event data = %v, want hello", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event handler never ran")
	}
}

func TestServiceEventDelivery(t *testing.T) {
	got := make(chan *pubsub.Event, 1)
	types := NewTypeRegistry()
	types.Register(&ComponentDef{
		Type: "Ticker",
		OnServiceEvent: []ServiceEventBinding{
			{Service: "Feed", Event: "tick", Handler: func(ctx context.Context, c *Component, ev *pubsub.Event) {
				got <- ev
			}},
		},
	})
	s, broker := newSessionHarness(t, types)

	if _, err := s.AddComponent(context.Background(), "t1", RootComponentID, "Ticker", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	broker.Publish(service.ChannelName("Feed"), pubsub.NewEvent("tick", "Feed", 7))

	select {
	case ev := <-got:
		if ev.Data != 7 {
			t.Errorf("event data = %v, want 7", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service event never delivered")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())

	if s.State() != StateNew {
		t.Errorf("initial state = %v, want new", s.State())
	}

	detached := make(chan struct{}, 1)
	s.onDetach = func(*Session) { detached <- struct{}{} }

	s.attach(nil)
	if s.State() != StateActive {
		t.Errorf("state after attach = %v, want active", s.State())
	}

	s.detach(nil)
	if s.State() != StateDisconnected {
		t.Errorf("state after detach = %v, want disconnected", s.State())
	}
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("onDetach never fired")
	}

	s.destroy(context.Background())
	if s.State() != StateDestroyed {
		t.Errorf("state after destroy = %v, want destroyed", s.State())
	}

	if _, err := s.AddComponent(context.Background(), "c1", RootComponentID, "Counter", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("add after destroy = %v, want ErrSessionClosed", err)
	}

	// Terminal: a second destroy is a no-op.
	s.destroy(context.Background())
	if s.State() != StateDestroyed {
		t.Error("destroy is not terminal")
	}
}

func TestAppStateSnapshotExcludesRoot(t *testing.T) {
	s, _ := newSessionHarness(t, counterTypes())
	ctx := context.Background()

	if _, err := s.AddComponent(ctx, "c1", RootComponentID, "Counter", map[string]any{"label": "a"}); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if _, err := s.AddComponent(ctx, "c2", "c1", "Counter", nil); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}

	snapshot := s.appStateSnapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snapshot))
	}
	if _, ok := snapshot[RootComponentID]; ok {
		t.Error("snapshot includes the root component")
	}
	if snapshot["c1"]["label"] != "a" {
		t.Errorf("snapshot c1 label = %v, want a", snapshot["c1"]["label"])
	}
}

func TestSessionErrorUnwrap(t *testing.T) {
	err := NewSessionError("/test", "add_component", ErrComponentExists)
	if !errors.Is(err, ErrComponentExists) {
		t.Error("SessionError does not unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}
