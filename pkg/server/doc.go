// Package server implements the StreamJam session orchestrator and the
// WebSocket transport around it.
//
// A Session owns one client's full component tree, its broker
// registrations, RPC execution, store-set routing, and a background task
// registry. Sessions outlive single connections: a reconnect under the
// same derived identity reattaches the existing session and resends the
// full application state.
//
// Components are server-side stateful objects bound to one session. Their
// declared properties are mirrored to the client as reactive stores; their
// RPC methods, event handlers, and store-update handlers are declared in a
// static ComponentDef table registered per type, never discovered by
// reflection.
package server
