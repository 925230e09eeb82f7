// Package audit relays authentication events to a sink without blocking the
// caller.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: timestamped record of a gate transition, login or logout.
//
// The package owns buffering and delivery only. Which events are emitted is
// decided by the client and the server handlers.
package audit
