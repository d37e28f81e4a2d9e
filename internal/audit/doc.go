// Package audit delivers session lifecycle audit records off the caller's goroutine.
//
// # Components
//
//   - [Event]: one record. It marshals itself for zap so that every sink shares field names.
//   - [Sink]: consumer interface, with channel, JSON lines, zap logger and no-op sinks.
//   - [Dispatcher]: bounded queue in front of a sink. It either drops or blocks when
//     full, and drains on Close within an optional deadline.
//
// # Architecture boundaries
//
// The Engine decides which events exist and what they carry. This package only
// buffers and delivers them.
//
// # What this package must NOT do
//
//   - Import goAuthClient or a sibling internal package.
//   - Receive token material or raw error text in an Event.
package audit
