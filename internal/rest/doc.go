// Package rest is the stateless request/response path to the chat service:
// the fallback message channel plus the session-service, history-store, and
// trade-command calls. Each call is independent; the only shared state is the
// conversation session id and the fallbackAvailable signal, which moves on
// call outcomes (success sets it, transport failure clears it, timeout leaves
// it untouched).
package rest
