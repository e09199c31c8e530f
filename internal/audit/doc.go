// Package audit implements async event dispatching for session-security events.
//
// # Components
//
//   - [Sink] receives events (channel, JSON writer, zap logger, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//     Sinks receive the emitting request's context values; Close drains for at most
//     Config.DrainTimeout.
//   - [Event] is the structured record: id, timestamp, type, user, client, outcome.
//
// The package owns buffering and delivery only. Which events exist and when they fire
// is decided by the authenticator.
package audit
