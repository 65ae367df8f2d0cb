// Package taskgroup tracks background tasks spawned by one owner: a
// session, a component, or a service. Each owner holds its own Group;
// closing the owner cancels the group's context and waits for its tasks.
// Cancellation never crosses owner boundaries.
package taskgroup

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Group is a registry of in-flight background tasks sharing one
// cancellation context.
type Group struct {
	owner  string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	running int
}

// New creates a Group whose context descends from parent. The owner name
// appears in panic logs.
func New(parent context.Context, owner string, logger *slog.Logger) *Group {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		owner:  owner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the group's cancellation context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go runs fn as a tracked task and reports whether it was accepted. The
// task is discarded from the registry on completion. Panics are recovered
// and logged with a stack trace; they are terminal for the task only and
// never propagate to the owner or to sibling tasks. After Close, Go
// rejects the task and returns false.
func (g *Group) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.running++
	g.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("task panic",
					"owner", g.owner,
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
			g.mu.Lock()
			g.running--
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn(g.ctx)
	}()
	return true
}

// Len returns the number of in-flight tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Close cancels the group's context, stops accepting new tasks, and waits
// for in-flight tasks to finish. Idempotent.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.wg.Wait()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}
