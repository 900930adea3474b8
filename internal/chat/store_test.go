// ABOUTME: Tests for the message reconciliation store.
// ABOUTME: Covers idempotent id-keyed merge, ordering, history dedupe, and clearing.

package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string    { return &s }
func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestStore_Upsert_Insert(t *testing.T) {
	s := NewStore(nil)

	msg := s.Upsert(Patch{
		ID:      "m1",
		Kind:    KindUser,
		Content: strPtr("hello"),
	})

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, KindUser, msg.Kind)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero(), "insert without timestamp defaults to now")
	assert.Equal(t, 1, s.Len())
}

func TestStore_Upsert_MergeByID(t *testing.T) {
	s := NewStore(nil)

	// Streamed message: content grows in place, then the stream completes.
	s.Upsert(Patch{ID: "a1", Kind: KindAgent, Content: strPtr("Look at $"), Streaming: boolPtr(true)})
	s.Upsert(Patch{ID: "a1", Content: strPtr("Look at $NVDA"), Streaming: boolPtr(true)})
	s.Upsert(Patch{ID: "a1", Streaming: boolPtr(false)})

	require.Equal(t, 1, s.Len(), "updates with a known id never duplicate")

	msg, ok := s.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "Look at $NVDA", msg.Content)
	assert.False(t, msg.Streaming)
	assert.Equal(t, KindAgent, msg.Kind)
}

func TestStore_Upsert_LastCallWins(t *testing.T) {
	s := NewStore(nil)

	for i := 0; i < 5; i++ {
		s.Upsert(Patch{
			ID:      "m1",
			Kind:    KindAgent,
			Content: strPtr(fmt.Sprintf("revision %d", i)),
		})
	}

	require.Equal(t, 1, s.Len())
	msg, _ := s.Get("m1")
	assert.Equal(t, "revision 4", msg.Content)
}

func TestStore_Upsert_PartialFieldsUntouched(t *testing.T) {
	s := NewStore(nil)

	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s.Upsert(Patch{
		ID:         "m1",
		Kind:       KindAgent,
		Speaker:    "quant",
		Content:    strPtr("original"),
		Confidence: floatPtr(0.8),
		Symbols:    []string{"NVDA"},
		CreatedAt:  ts,
	})

	// A patch touching nothing but the streaming flag leaves the rest alone.
	s.Upsert(Patch{ID: "m1", Streaming: boolPtr(false)})

	msg, _ := s.Get("m1")
	assert.Equal(t, "original", msg.Content)
	assert.Equal(t, "quant", msg.Speaker)
	assert.Equal(t, []string{"NVDA"}, msg.Symbols)
	require.NotNil(t, msg.Confidence)
	assert.InDelta(t, 0.8, *msg.Confidence, 1e-9)
	assert.Equal(t, ts, msg.CreatedAt)
}

func TestStore_Upsert_SynthesizesMissingID(t *testing.T) {
	s := NewStore(nil)

	msg := s.Upsert(Patch{Kind: KindSystem, Content: strPtr("no id supplied")})

	assert.NotEmpty(t, msg.ID, "id-less payloads are tolerated, not dropped")
	assert.Equal(t, 1, s.Len())
}

func TestStore_Upsert_ProposalAttachesAndReplaces(t *testing.T) {
	s := NewStore(nil)

	s.Upsert(Patch{ID: "trade-p1", Kind: KindTradeProposal, Content: strPtr("momentum setup")})
	s.Upsert(Patch{ID: "trade-p1", Proposal: &TradeProposal{
		ProposalID: "p1", Symbol: "TSLA", Side: SideBuy, Status: StatusPending,
	}})

	msg, ok := s.FindByProposalID("p1")
	require.True(t, ok)
	assert.Equal(t, "trade-p1", msg.ID)
	assert.Equal(t, "momentum setup", msg.Content)
	assert.Equal(t, StatusPending, msg.Proposal.Status)

	// Replacing the proposal sub-object keeps the single entry.
	s.Upsert(Patch{ID: "trade-p1", Proposal: &TradeProposal{
		ProposalID: "p1", Symbol: "TSLA", Side: SideBuy, Status: StatusExecuted,
	}})
	require.Equal(t, 1, s.Len())
	msg, _ = s.FindByProposalID("p1")
	assert.Equal(t, StatusExecuted, msg.Proposal.Status)
}

func TestStore_Ordering_AscendingByCreatedAt(t *testing.T) {
	s := NewStore(nil)

	base := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	s.Upsert(Patch{ID: "c", Kind: KindAgent, CreatedAt: base.Add(2 * time.Minute)})
	s.Upsert(Patch{ID: "a", Kind: KindUser, CreatedAt: base})
	s.Upsert(Patch{ID: "b", Kind: KindAgent, CreatedAt: base.Add(time.Minute)})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestStore_Upsert_ResortsOnTimestampChange(t *testing.T) {
	s := NewStore(nil)

	base := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	s.Upsert(Patch{ID: "optimistic", Kind: KindUser, CreatedAt: base.Add(time.Hour)})
	s.Upsert(Patch{ID: "other", Kind: KindAgent, CreatedAt: base.Add(time.Minute)})

	// Remote echo carries the authoritative (earlier) timestamp.
	s.Upsert(Patch{ID: "optimistic", CreatedAt: base})

	msgs := s.Messages()
	assert.Equal(t, "optimistic", msgs[0].ID)
}

func TestStore_BulkLoad_DeduplicatesByID(t *testing.T) {
	s := NewStore(nil)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.Upsert(Patch{ID: "m1", Kind: KindUser, Content: strPtr("local echo"), CreatedAt: base.Add(time.Second)})

	s.BulkLoad([]Message{
		{ID: "m1", Kind: KindUser, Content: "stale copy", CreatedAt: base},
		{ID: "m2", Kind: KindAgent, Content: "history entry", CreatedAt: base.Add(time.Minute)},
	})

	require.Equal(t, 2, s.Len())
	msg, _ := s.Get("m1")
	assert.Equal(t, "local echo", msg.Content, "older history copy must not win")
}

func TestStore_BulkLoad_PrefersNewerTimestamp(t *testing.T) {
	s := NewStore(nil)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.Upsert(Patch{ID: "m1", Kind: KindUser, Content: strPtr("stale"), CreatedAt: base})

	s.BulkLoad([]Message{
		{ID: "m1", Kind: KindUser, Content: "authoritative", CreatedAt: base.Add(time.Second)},
	})

	require.Equal(t, 1, s.Len())
	msg, _ := s.Get("m1")
	assert.Equal(t, "authoritative", msg.Content)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(nil)

	s.Upsert(Patch{ID: "m1", Kind: KindUser})
	s.Upsert(Patch{ID: "m2", Kind: KindAgent})
	require.Equal(t, 2, s.Len())

	s.Clear()

	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("m1")
	assert.False(t, ok)
}

func TestStore_OnChange_FiresAfterMutations(t *testing.T) {
	s := NewStore(nil)

	var calls int
	s.OnChange(func() { calls++ })

	s.Upsert(Patch{ID: "m1", Kind: KindUser})
	s.BulkLoad([]Message{{ID: "m2", Kind: KindAgent, CreatedAt: time.Now()}})
	s.Clear()

	assert.Equal(t, 3, calls)
}
