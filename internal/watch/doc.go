// Package watch maintains the watched-symbol set owned jointly by client and
// remote side, with optimistic local mutation and best-effort propagation.
package watch
