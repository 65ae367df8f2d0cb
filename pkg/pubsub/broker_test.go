package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestBroker() *Broker {
	return New(&Options{Registerer: prometheus.NewRegistry()})
}

func registered(b *Broker, id string) *Queue {
	q := NewQueue()
	b.Register(id, q)
	return q
}

func receiveNames(t *testing.T, q *Queue, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var names []string
	for i := 0; i < n; i++ {
		ev, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		names = append(names, ev.Name)
	}
	return names
}

func TestPublishToSubscribers(t *testing.T) {
	b := newTestBroker()
	q1 := registered(b, "s1")
	q2 := registered(b, "s2")
	registered(b, "s3")

	b.Subscribe("s1", "ch", "greet")
	b.Subscribe("s2", "ch", "greet")
	// s3 subscribed to a different topic only.
	b.Subscribe("s3", "ch", "other")

	b.Publish("ch", NewEvent("greet", "test", "hi"))

	if names := receiveNames(t, q1, 1); names[0] != "greet" {
		t.Errorf("s1 received %v", names)
	}
	if names := receiveNames(t, q2, 1); names[0] != "greet" {
		t.Errorf("s2 received %v", names)
	}

	if q := b.queues["s3"]; q.Len() != 0 {
		t.Errorf("s3 should receive nothing, has %d events", q.Len())
	}
}

func TestPublishRecipientFilter(t *testing.T) {
	b := newTestBroker()
	q1 := registered(b, "s1")
	q2 := registered(b, "s2")

	b.Subscribe("s1", "ch", "ev")
	b.Subscribe("s2", "ch", "ev")

	b.Publish("ch", NewEvent("ev", "test", nil), ToRecipients("s1"))

	if q1.Len() != 1 {
		t.Errorf("s1 queue len = %d, want 1", q1.Len())
	}
	if q2.Len() != 0 {
		t.Errorf("s2 queue len = %d, want 0", q2.Len())
	}
}

func TestPublishExclude(t *testing.T) {
	b := newTestBroker()
	q1 := registered(b, "s1")
	q2 := registered(b, "s2")

	b.Subscribe("s1", "ch", "ev")
	b.Subscribe("s2", "ch", "ev")

	b.Publish("ch", NewEvent("ev", "test", nil), Exclude("s2"))

	if q1.Len() != 1 {
		t.Errorf("s1 queue len = %d, want 1", q1.Len())
	}
	if q2.Len() != 0 {
		t.Errorf("excluded s2 queue len = %d, want 0", q2.Len())
	}
}

func TestPublishToRooms(t *testing.T) {
	b := newTestBroker()
	q1 := registered(b, "s1")
	q2 := registered(b, "s2")
	q3 := registered(b, "s3")

	b.Subscribe("s3", "ch", "message")
	b.JoinRoom("s1", "ch", "lobby")
	b.JoinRoom("s2", "ch", "lobby")

	b.Publish("ch", NewEvent("message", "Chat", "hello"), ToRooms("lobby"))

	if q1.Len() != 1 || q2.Len() != 1 {
		t.Errorf("lobby members queue lens = %d,%d, want 1,1", q1.Len(), q2.Len())
	}
	if q3.Len() != 0 {
		t.Errorf("non-member s3 queue len = %d, want 0", q3.Len())
	}
}

func TestJoinRoomSubscribesExistingTopics(t *testing.T) {
	b := newTestBroker()
	registered(b, "s1")
	q2 := registered(b, "s2")

	b.Subscribe("s1", "ch", "existing")
	b.JoinRoom("s2", "ch", "lobby")

	// Plain publish, no room filter: the joined member is now a topic
	// subscriber.
	b.Publish("ch", NewEvent("existing", "test", nil))
	if q2.Len() != 1 {
		t.Errorf("room member queue len = %d, want 1", q2.Len())
	}
}

func TestLateTopicCoversRoomMembers(t *testing.T) {
	b := newTestBroker()
	registered(b, "s1")
	q2 := registered(b, "s2")

	// Join before the topic exists. The first subscription that creates
	// the topic must re-apply room membership.
	b.JoinRoom("s2", "ch", "lobby")
	b.Subscribe("s1", "ch", "late-topic")

	b.Publish("ch", NewEvent("late-topic", "test", nil))
	if q2.Len() != 1 {
		t.Errorf("room member missed late-bound topic, queue len = %d", q2.Len())
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	b := newTestBroker()
	q1 := registered(b, "s1")

	b.Subscribe("owner", "ch", "ev")
	b.JoinRoom("s1", "ch", "lobby")
	b.LeaveRoom("s1", "ch", "lobby")

	b.Publish("ch", NewEvent("ev", "test", nil))
	if q1.Len() != 0 {
		t.Errorf("left member queue len = %d, want 0", q1.Len())
	}
}

func TestPublishUnregisteredIDIsSilent(t *testing.T) {
	b := newTestBroker()
	// Subscribed but never registered a queue.
	b.Subscribe("ghost", "ch", "ev")

	// Must not panic or error.
	b.Publish("ch", NewEvent("ev", "test", nil))
}

func TestQuitRemovesEverywhere(t *testing.T) {
	b := newTestBroker()
	q := registered(b, "s1")

	b.Subscribe("s1", "ch1", "a")
	b.Subscribe("s1", "ch2", "b")
	b.JoinRoom("s1", "ch1", "room")

	b.Quit("s1")

	if b.Registered("s1") {
		t.Error("queue registration should be removed")
	}
	b.Publish("ch1", NewEvent("a", "test", nil))
	b.Publish("ch2", NewEvent("b", "test", nil))
	if q.Len() != 0 {
		t.Errorf("quit subscriber still received %d events", q.Len())
	}
}

func TestQuitScopedToChannel(t *testing.T) {
	b := newTestBroker()
	registered(b, "s1")

	b.Subscribe("s1", "ch1", "a")
	b.Subscribe("s1", "ch2", "b")

	b.Quit("s1", "ch1")

	// Queue registration is gone either way, so nothing is delivered, but
	// the ch2 topic membership survives a scoped quit.
	if _, ok := b.subscribers["ch2"]["b"]["s1"]; !ok {
		t.Error("scoped quit should not touch other channels")
	}
	if _, ok := b.subscribers["ch1"]["a"]["s1"]; ok {
		t.Error("scoped quit should remove channel membership")
	}
}

func TestRegisterIdempotent(t *testing.T) {
	b := newTestBroker()
	q1 := NewQueue()
	q2 := NewQueue()
	b.Register("s1", q1)
	b.Register("s1", q2)

	b.Subscribe("s1", "ch", "ev")
	b.Publish("ch", NewEvent("ev", "test", nil))

	if q2.Len() != 1 {
		t.Errorf("replacement queue len = %d, want 1", q2.Len())
	}
	if q1.Len() != 0 {
		t.Errorf("replaced queue len = %d, want 0", q1.Len())
	}
}

func TestConcurrentPublishAndQuit(t *testing.T) {
	b := newTestBroker()
	for _, id := range []string{"a", "b", "c", "d"} {
		registered(b, id)
		b.Subscribe(id, "ch", "ev")
		b.JoinRoom(id, "ch", "room")
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish("ch", NewEvent("ev", "test", nil), ToRooms("room"))
		}()
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b", "c", "d"}[i%4]
			b.Quit(id)
			b.Register(id, NewQueue())
			b.Subscribe(id, "ch", "ev")
		}(i)
	}
	wg.Wait()
}
