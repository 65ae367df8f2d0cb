// Package pubsub implements the process-wide publish/subscribe broker.
//
// The broker routes ServiceEvents between services, components, and
// sessions. Channels partition the topic space (typically one channel per
// service); topics within a channel hold subscriber sets; rooms group
// subscribers within a channel for broadcast. Each subscriber registers a
// delivery Queue, a priority queue ordered by event priority (ascending)
// with FIFO ordering among equal priorities.
//
// Every broker operation is atomic under a single mutex and never blocks
// while holding it, so subscription tables are never observed in an
// inconsistent state by a concurrent publish.
package pubsub
