// ABOUTME: In-memory message reconciliation store keyed by message id.
// ABOUTME: Merges partial updates and late history batches without duplicates.

package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Patch is a partial message update. Nil pointer fields and zero values are
// left untouched on merge; an empty ID causes the store to synthesize a
// locally-unique one rather than drop the update.
type Patch struct {
	ID              string
	Kind            Kind
	Speaker         string
	Content         *string
	Confidence      *float64
	Symbols         []string
	MentionedAgents []string
	CreatedAt       time.Time
	Streaming       *bool
	Proposal        *TradeProposal
}

// Store is the canonical, deduplicated, chronologically ordered collection of
// conversation entries. Identity is resolved purely by id equality, never by
// content comparison, so an optimistic local echo, the remote's
// authoritative echo, and a streamed message updated in place all reconcile
// to a single entry.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Message
	order    []*Message
	logger   *slog.Logger
	onChange func()
}

// NewStore creates an empty store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byID:   make(map[string]*Message),
		logger: logger.With("component", "chat-store"),
	}
}

// OnChange registers a single callback invoked after every mutation, outside
// the store lock. Used by the rendering layer to repaint without polling.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Upsert merges a partial update into the entry with the matching id, or
// inserts a new entry when the id is unknown. Returns a copy of the merged
// message. An update with a known id replaces fields, never duplicates the
// entry; the collection is re-sorted by CreatedAt after every call.
func (s *Store) Upsert(p Patch) Message {
	s.mu.Lock()

	if p.ID == "" {
		// Tolerate id-less payloads rather than dropping them. Such entries
		// cannot later be merged against a remote echo.
		p.ID = uuid.New().String()
		s.logger.Debug("synthesized message id", "message_id", p.ID, "kind", p.Kind)
	}

	msg, exists := s.byID[p.ID]
	if !exists {
		msg = &Message{ID: p.ID, CreatedAt: time.Now()}
		s.byID[p.ID] = msg
		s.order = append(s.order, msg)
	}
	s.mergeLocked(msg, p)
	s.sortLocked()

	out := *msg
	s.mu.Unlock()

	s.notify()
	return out
}

// mergeLocked applies the set fields of p onto msg. Must be called with mu held.
func (s *Store) mergeLocked(msg *Message, p Patch) {
	if p.Kind != "" {
		msg.Kind = p.Kind
	}
	if p.Speaker != "" {
		msg.Speaker = p.Speaker
	}
	if p.Content != nil {
		msg.Content = *p.Content
	}
	if p.Confidence != nil {
		msg.Confidence = p.Confidence
	}
	if p.Symbols != nil {
		msg.Symbols = append([]string(nil), p.Symbols...)
	}
	if p.MentionedAgents != nil {
		msg.MentionedAgents = append([]string(nil), p.MentionedAgents...)
	}
	if !p.CreatedAt.IsZero() {
		// The remote service is the authoritative clock; a client-assigned
		// timestamp only stands until the echo arrives.
		msg.CreatedAt = p.CreatedAt
	}
	if p.Streaming != nil {
		msg.Streaming = *p.Streaming
	}
	if p.Proposal != nil {
		prop := *p.Proposal
		msg.Proposal = &prop
	}
}

// BulkLoad merges an ordered history batch, deduplicating against anything
// already present by id. When both sides have an entry, the one with the more
// recent CreatedAt wins. Used once at session bootstrap.
func (s *Store) BulkLoad(history []Message) {
	s.mu.Lock()
	for i := range history {
		m := history[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		existing, ok := s.byID[m.ID]
		if ok {
			if m.CreatedAt.After(existing.CreatedAt) {
				*existing = m
			}
			continue
		}
		entry := m
		s.byID[entry.ID] = &entry
		s.order = append(s.order, &entry)
	}
	s.sortLocked()
	n := len(s.order)
	s.mu.Unlock()

	s.logger.Debug("history merged", "loaded", len(history), "total", n)
	s.notify()
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// FindByProposalID returns a copy of the message carrying the given trade
// proposal, if any.
func (s *Store) FindByProposalID(proposalID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.order {
		if msg.Proposal != nil && msg.Proposal.ProposalID == proposalID {
			return *msg, true
		}
	}
	return Message{}, false
}

// Messages returns copies of all entries, sorted ascending by CreatedAt.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.order))
	for i, msg := range s.order {
		out[i] = *msg
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear atomically removes every entry. Deletion of the external history is
// the caller's responsibility; individual entries are never deleted.
func (s *Store) Clear() {
	s.mu.Lock()
	s.byID = make(map[string]*Message)
	s.order = nil
	s.mu.Unlock()

	s.logger.Info("conversation cleared")
	s.notify()
}

// sortLocked keeps the display order ascending by CreatedAt. Stable so that
// entries sharing a timestamp keep their arrival order.
func (s *Store) sortLocked() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].CreatedAt.Before(s.order[j].CreatedAt)
	})
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
