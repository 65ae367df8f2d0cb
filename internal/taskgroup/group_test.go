package taskgroup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsTask(t *testing.T) {
	g := New(context.Background(), "test", nil)
	done := make(chan struct{})

	g.Go("task", func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	g.Close()
}

func TestCloseCancelsContext(t *testing.T) {
	g := New(context.Background(), "test", nil)
	var canceled atomic.Bool

	started := make(chan struct{})
	g.Go("waiter", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	})

	<-started
	g.Close()

	if !canceled.Load() {
		t.Error("task context should be canceled by Close")
	}
	if g.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", g.Len())
	}
}

func TestGoAfterCloseIsNoop(t *testing.T) {
	g := New(context.Background(), "test", nil)
	g.Close()

	ran := make(chan struct{}, 1)
	if g.Go("late", func(ctx context.Context) {
		ran <- struct{}{}
	}) {
		t.Error("Go after Close should report rejection")
	}

	select {
	case <-ran:
		t.Error("task spawned after Close should not run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanicIsContained(t *testing.T) {
	g := New(context.Background(), "test", nil)

	g.Go("panicker", func(ctx context.Context) {
		panic("boom")
	})

	sawSibling := make(chan struct{})
	g.Go("sibling", func(ctx context.Context) {
		close(sawSibling)
	})

	select {
	case <-sawSibling:
	case <-time.After(time.Second):
		t.Fatal("sibling task should run despite panic in another task")
	}
	g.Close()
}

func TestTaskDiscardedOnCompletion(t *testing.T) {
	g := New(context.Background(), "test", nil)
	release := make(chan struct{})

	g.Go("held", func(ctx context.Context) {
		<-release
	})

	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
	close(release)
	g.Close()
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
}
