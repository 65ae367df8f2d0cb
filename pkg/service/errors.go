package service

import "errors"

// Sentinel errors for service resolution and lifecycle misuse.
var (
	// ErrServiceNotFound is returned when a service name is not registered.
	ErrServiceNotFound = errors.New("service: service not found")

	// ErrMethodNotFound is returned when a method name does not resolve to
	// a declared service method.
	ErrMethodNotFound = errors.New("service: method not found")

	// ErrAlreadyInitialized is returned when InitAll is called twice.
	ErrAlreadyInitialized = errors.New("service: registry already initialized")

	// ErrNotInitialized is returned when a call is made before InitAll.
	ErrNotInitialized = errors.New("service: registry not initialized")
)
