// Package trade drives the per-proposal lifecycle embedded in conversation
// messages: pending → executed | rejected | failed, terminal and one-shot.
// Transitions come only from inbound execution-result events; confirm/reject
// commands are fire-and-forget intents routed over the live channel when
// open, else over the fallback path.
package trade
