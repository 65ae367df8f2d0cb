// Package service implements the singleton service-execution layer.
//
// A service is a process-wide background object, independent of any
// session, reachable from components and from other services through
// proxies. Each service owns a private broker channel named
// "$Service/<name>" and may only publish events there.
//
// Services are registered on a Registry with an explicit constructor and
// declare their callable methods and peer-event subscriptions through the
// MethodProvider and EventSubscriber interfaces: a static table per type,
// no runtime introspection.
//
// Every service must be initialized, via Registry.InitAll, before the
// transport starts accepting connections, and is never torn down except at
// process shutdown.
package service
