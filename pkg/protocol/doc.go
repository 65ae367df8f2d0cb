// Package protocol implements the wire envelope exchanged between the
// StreamJam server and its clients.
//
// Every message is a JSON array with three positional fields:
//
//	[request_id_or_null, topic, payload]
//
// The request id is an opaque token that correlates an RPC result with its
// caller and is null for everything else. The topic selects a handling
// branch on the receiving side; hierarchical topics are paths whose
// segments are joined with ">" on the wire (for example
// "store-value>c1>count"). The payload is opaque to the envelope itself
// and interpreted by the branch the topic selects.
//
// # Topics
//
// Client to server:
//
//   - "add-component": [component_id, parent_id, type_name, initial_props]
//   - "exec-rpc": [component_id, rpc_name, args] (request id required)
//   - "store-set": [component_id, property_name, value]
//   - "destroy-component": [component_id]
//
// Server to client:
//
//   - "app-state": map of component id to full state snapshot
//   - "store-value>{component_id}>{property_name}": the new value
//   - "rpc-result": the RPC return value, or an error object on failure;
//     the request id echoes the caller's id
package protocol
