package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue()

	// Published in priority order [3,1,2]; delivery must be [1,2,3].
	for _, p := range []int{3, 1, 2} {
		q.Push(&Event{Name: "e", Priority: p})
	}

	ctx := context.Background()
	var got []int
	for i := 0; i < 3; i++ {
		ev, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got = append(got, ev.Priority)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOAmongEqualPriorities(t *testing.T) {
	q := NewQueue()
	q.Push(NewEvent("a", "src", nil))
	q.Push(NewEvent("b", "src", nil))

	ctx := context.Background()
	first, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	second, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if first.Name != "a" || second.Name != "b" {
		t.Errorf("delivery order = %s,%s, want a,b", first.Name, second.Name)
	}
}

func TestQueueReceiveBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	done := make(chan *Event, 1)

	go func() {
		ev, err := q.Receive(context.Background())
		if err != nil {
			return
		}
		done <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(NewEvent("late", "src", nil))

	select {
	case ev := <-done:
		if ev.Name != "late" {
			t.Errorf("received %q, want late", ev.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up after Push")
	}
}

func TestQueueReceiveContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive err = %v, want context.Canceled", err)
	}
}

func TestQueueCloseDrainsThenErrors(t *testing.T) {
	q := NewQueue()
	q.Push(NewEvent("pending", "src", nil))
	q.Close()

	ev, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive pending event after Close: %v", err)
	}
	if ev.Name != "pending" {
		t.Errorf("received %q, want pending", ev.Name)
	}

	if _, err := q.Receive(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Receive on drained closed queue = %v, want ErrQueueClosed", err)
	}

	// Pushing after Close is a no-op.
	q.Push(NewEvent("late", "src", nil))
	if q.Len() != 0 {
		t.Errorf("Len after push-on-closed = %d, want 0", q.Len())
	}
}
