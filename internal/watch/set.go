// ABOUTME: Watched-symbol set shared with the remote side.
// ABOUTME: Mutations are optimistic and locally immediate; propagation is best-effort.

package watch

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/2389/deskchat/internal/stream"
)

// Propagator is the best-effort streaming surface for watch-set changes.
// There is no fallback: while the stream is down, the local set still
// changes and the init event re-synchronizes on reconnect.
type Propagator interface {
	Send(ev stream.Outbound) error
	Connected() bool
}

// Set holds the symbols the user is actively discussing. Membership is
// normalized to uppercase and mutations are idempotent.
type Set struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
	prop    Propagator
	logger  *slog.Logger
}

// NewSet creates an empty watch set. Pass nil logger for default.
func NewSet(prop Propagator, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		symbols: make(map[string]struct{}),
		prop:    prop,
		logger:  logger.With("component", "watch"),
	}
}

// Normalize canonicalizes a ticker for membership checks.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Seed replaces the set with the server's list at bootstrap. No propagation:
// the server already has these.
func (s *Set) Seed(symbols []string) {
	s.mu.Lock()
	s.symbols = make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if n := Normalize(sym); n != "" {
			s.symbols[n] = struct{}{}
		}
	}
	s.mu.Unlock()
}

// Add inserts a symbol and reports whether membership changed. Only an
// actual change emits a propagation event, and only while the stream is open.
func (s *Set) Add(symbol string) bool {
	sym := Normalize(symbol)
	if sym == "" {
		return false
	}

	s.mu.Lock()
	if _, exists := s.symbols[sym]; exists {
		s.mu.Unlock()
		return false
	}
	s.symbols[sym] = struct{}{}
	s.mu.Unlock()

	s.propagate(stream.AddSymbols{Symbols: []string{sym}})
	return true
}

// Remove deletes a symbol and reports whether membership changed.
func (s *Set) Remove(symbol string) bool {
	sym := Normalize(symbol)
	if sym == "" {
		return false
	}

	s.mu.Lock()
	if _, exists := s.symbols[sym]; !exists {
		s.mu.Unlock()
		return false
	}
	delete(s.symbols, sym)
	s.mu.Unlock()

	s.propagate(stream.RemoveSymbols{Symbols: []string{sym}})
	return true
}

// Contains reports membership of the normalized symbol.
func (s *Set) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[Normalize(symbol)]
	return ok
}

// Symbols returns the membership as a sorted slice.
func (s *Set) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (s *Set) propagate(ev stream.Outbound) {
	if s.prop == nil || !s.prop.Connected() {
		return
	}
	if err := s.prop.Send(ev); err != nil {
		s.logger.Debug("watch propagation skipped", "error", err)
	}
}
