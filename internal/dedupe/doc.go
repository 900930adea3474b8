// Package dedupe provides a time-based replay filter for inbound payloads
// that arrive without a stable id and therefore cannot be reconciled by the
// message store's id-keyed merge.
package dedupe
