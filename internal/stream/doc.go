// Package stream owns the persistent streaming connection to the agent-chat
// service.
//
// # Lifecycle
//
// The Manager walks an explicit state machine:
//
//	Idle → Connecting → Open → (Reconnecting | Disabled | Closed)
//
// A successful open resets the attempt counter, announces the watched-symbol
// set via an init event, and starts the keep-alive loop. An unexpected close
// increments the counter and schedules a reconnect after
// min(maxDelay, baseDelay × growth^attempt); crossing the disable threshold
// transitions to Disabled, where no network attempt is made until an explicit
// Reset. A clean Shutdown never triggers reconnection.
//
// # Events
//
// Frames are a {type, data} JSON envelope. Inbound frames decode into a
// closed variant set (see DecodeInbound); unknown type tags are preserved as
// Unknown for forward compatibility. Keep-alive frames and their
// acknowledgements are protocol-internal and never reach the event handler.
//
// # Failure semantics
//
// Connection failures are never fatal to the caller; they only toggle the
// connected signal. Send returns ErrNotConnected while the stream is down and
// the caller falls back to the request channel.
package stream
