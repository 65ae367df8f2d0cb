package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamjam/streamjam/pkg/pubsub"
)

// PropSpec declares one reactive property of a component type.
type PropSpec struct {
	Name    string
	Default any
}

// RPCFunc is a component method exposed to the client as an RPC.
type RPCFunc func(ctx context.Context, c *Component, args []any) (any, error)

// EventFunc handles a local session event.
type EventFunc func(ctx context.Context, c *Component, ev *ComponentEvent)

// ServiceEventFunc handles an event delivered from a service channel.
type ServiceEventFunc func(ctx context.Context, c *Component, ev *pubsub.Event)

// StoreUpdateFunc handles a client store-set for one property. The value
// it returns becomes the stored state, which allows server-side
// validation and coercion of client writes.
type StoreUpdateFunc func(ctx context.Context, c *Component, value any) (any, error)

// HookFunc is a component lifecycle hook.
type HookFunc func(ctx context.Context, c *Component) error

// ServiceEventBinding subscribes a component type to one event on a
// service's channel.
type ServiceEventBinding struct {
	Service string
	Event   string
	Handler ServiceEventFunc
}

// ComponentDef is the static declaration table for one component type:
// its reactive properties, its RPC-exposed methods, its event and
// store-update handlers, and its lifecycle hooks. Defs are built once per
// type and registered on a TypeRegistry; nothing is discovered at runtime.
type ComponentDef struct {
	// Type is the type name the client sends in add-component.
	Type string

	// Props declares the reactive properties and their defaults.
	Props []PropSpec

	// Services names the service proxies wired into each instance.
	Services []string

	// RPC maps rpc names to methods flagged as RPC-exposed.
	RPC map[string]RPCFunc

	// OnEvent maps session event names to handlers.
	OnEvent map[string]EventFunc

	// OnServiceEvent subscribes instances to service channels.
	OnServiceEvent []ServiceEventBinding

	// OnStoreUpdate maps property names to store-set handlers.
	OnStoreUpdate map[string]StoreUpdateFunc

	// OnMount runs once after construction, before OnConnect.
	OnMount HookFunc

	// OnConnect runs when the component goes live, and again on every
	// session reattach.
	OnConnect HookFunc

	// OnDisconnect runs when the session's transport drops.
	OnDisconnect HookFunc

	// OnDestroy runs first in the destroy sequence.
	OnDestroy HookFunc
}

// defaultState builds a fresh state map from the declared defaults.
func (d *ComponentDef) defaultState() map[string]any {
	state := make(map[string]any, len(d.Props))
	for _, p := range d.Props {
		state[p.Name] = p.Default
	}
	return state
}

// declared reports whether name is a declared property.
func (d *ComponentDef) declared(name string) bool {
	for _, p := range d.Props {
		if p.Name == name {
			return true
		}
	}
	return false
}

// TypeRegistry maps component type names to their definitions. The
// build/compile step that turns backend definitions into client
// components populates it before the server starts.
type TypeRegistry struct {
	mu   sync.RWMutex
	defs map[string]*ComponentDef
}

// NewTypeRegistry creates an empty TypeRegistry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{defs: map[string]*ComponentDef{}}
}

// Register adds a definition. Registering a duplicate type name is a
// programming error and panics.
func (r *TypeRegistry) Register(def *ComponentDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Type == "" {
		panic("server: component def has empty type name")
	}
	if _, ok := r.defs[def.Type]; ok {
		panic(fmt.Sprintf("server: duplicate component type %q", def.Type))
	}
	r.defs[def.Type] = def
}

// Lookup resolves a type name.
func (r *TypeRegistry) Lookup(name string) (*ComponentDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}
	return def, nil
}

// Types returns the registered type names.
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
