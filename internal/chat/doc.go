// Package chat holds the conversation data model and the message
// reconciliation store.
//
// # Overview
//
// The store is the canonical, deduplicated, chronologically ordered
// collection of conversation entries. Two transports feed it, the streaming
// connection and the HTTP fallback path, with no cross-channel ordering
// guarantee, so identity is resolved purely by message id:
//
//   - An optimistic local echo of a user's own message, the remote's
//     authoritative echo of that message, and a streamed agent message whose
//     content grows in place all share one id and reconcile to one entry.
//   - Updates with a known id replace fields on the existing entry
//     (last-applied-wins per field), never insert a duplicate.
//   - Payloads that arrive without an id get a synthesized one rather than
//     being dropped, accepting that they cannot merge against a later echo.
//
// # Merge surface
//
// Partial updates are expressed as a Patch: nil pointer fields are left
// untouched, so `Upsert(Patch{ID: id, Streaming: &f})` flips the streaming
// flag without disturbing accumulated content.
//
// # Ordering
//
// The collection is always sorted ascending by CreatedAt for display. The
// remote service is the authoritative clock; client-assigned timestamps on
// optimistic entries stand only until the echo arrives.
package chat
