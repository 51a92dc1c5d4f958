// Package audit implements async dispatching of security events.
//
// The [Dispatcher] buffers events and relays them to a caller-supplied
// [Sink] off the hot path, so an unavailable consumer never stalls an
// authentication flow. Which events exist and when they fire is the
// engine's business, not this package's.
package audit
