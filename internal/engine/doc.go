// Package engine is the session-level glue for the agent-chat
// synchronization core.
//
// # Overview
//
// One Engine owns one chat session and its collaborators:
//
//   - a stream.Manager for the live bidirectional connection
//   - a rest.Client for the stateless fallback path and the external
//     session/history services
//   - the chat.Store holding the reconciled conversation
//   - a trade.Controller for proposal lifecycles
//   - a watch.Set for the shared symbol set
//
// # Bootstrap
//
// Start runs three independently fault-tolerant steps: establish the session
// (falling back to a locally generated id), open the stream (which schedules
// its own recovery on failure), and bulk-load recent history. A failure in
// any step is logged and never aborts the others.
//
// # Channel selection
//
// User messages go over the stream when it is open, else through the
// fallback request channel. Fallback outcomes are surfaced distinctly:
// agent replies merge into the store, a timeout produces a "service slow"
// notice, and a transport failure produces an unreachable notice and clears
// fallback availability. Across the two channels there is no ordering
// guarantee; the store's id-keyed merge makes the race safe.
package engine
