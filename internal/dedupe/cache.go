// ABOUTME: TTL-bounded replay filter for inbound payloads without stable ids.
// ABOUTME: Id-less payloads get synthesized store ids and cannot merge, so replays are dropped here.

package dedupe

import (
	"sync"
	"time"
)

// Filter tracks recently seen payload keys so that a reconnect-window replay
// of an id-less event does not produce a duplicate conversation entry.
// Payloads that carry a stable id never pass through here; the store's
// id-keyed merge already makes their replays safe.
type Filter struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewFilter creates a filter that remembers keys for ttl, holding at most
// maxSize entries.
func NewFilter(ttl time.Duration, maxSize int) *Filter {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 512
	}
	return &Filter{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Duplicate atomically checks whether the key was seen within the TTL window
// and marks it if not. Returns true for a replay the caller should drop.
func (f *Filter) Duplicate(key string) bool {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if ts, ok := f.seen[key]; ok && now.Sub(ts) < f.ttl {
		f.seen[key] = now
		return true
	}

	f.sweepLocked(now)
	f.seen[key] = now
	return false
}

// sweepLocked drops expired entries, then the oldest entry if still at
// capacity. Must be called with mu held. The filter lives in a short-lived
// client, so opportunistic sweeping replaces a background goroutine.
func (f *Filter) sweepLocked(now time.Time) {
	for key, ts := range f.seen {
		if now.Sub(ts) >= f.ttl {
			delete(f.seen, key)
		}
	}

	if len(f.seen) < f.maxSize {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, ts := range f.seen {
		if oldestKey == "" || ts.Before(oldest) {
			oldestKey, oldest = key, ts
		}
	}
	delete(f.seen, oldestKey)
}

// Len returns the number of tracked keys.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
