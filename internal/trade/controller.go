// ABOUTME: Per-proposal state machine and confirm/reject command routing.
// ABOUTME: Outcomes are terminal one-shot; a proposal never owns two messages.

package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/2389/deskchat/internal/chat"
	"github.com/2389/deskchat/internal/rest"
	"github.com/2389/deskchat/internal/stream"
)

// ErrUnknownProposal indicates a command for a proposal the controller has
// never seen.
var ErrUnknownProposal = errors.New("unknown trade proposal")

// ErrProposalSettled indicates a command for a proposal already in a
// terminal status.
var ErrProposalSettled = errors.New("trade proposal already settled")

// Lifecycle states and triggers. pending is the only non-terminal state;
// terminal states permit no further transition, which is what makes a
// replayed outcome event a no-op.
var (
	statePending  stateless.State = chat.StatusPending
	stateExecuted stateless.State = chat.StatusExecuted
	stateRejected stateless.State = chat.StatusRejected
	stateFailed   stateless.State = chat.StatusFailed
)

var (
	triggerExecuted stateless.Trigger = "executed"
	triggerRejected stateless.Trigger = "rejected"
	triggerErrored  stateless.Trigger = "errored"
)

func newLifecycle(initial chat.ProposalStatus) *stateless.StateMachine {
	var start stateless.State = statePending
	switch initial {
	case chat.StatusExecuted:
		start = stateExecuted
	case chat.StatusRejected:
		start = stateRejected
	case chat.StatusFailed:
		start = stateFailed
	}

	fsm := stateless.NewStateMachine(start)
	fsm.Configure(statePending).
		Permit(triggerExecuted, stateExecuted).
		Permit(triggerRejected, stateRejected).
		Permit(triggerErrored, stateFailed)
	fsm.Configure(stateExecuted)
	fsm.Configure(stateRejected)
	fsm.Configure(stateFailed)
	return fsm
}

// StreamSender is the live-channel surface the controller needs.
type StreamSender interface {
	Send(ev stream.Outbound) error
	Connected() bool
}

// FallbackSender issues the equivalent command over the request channel.
type FallbackSender interface {
	TradeCommand(ctx context.Context, action rest.TradeAction, proposalID string) error
}

// Controller embeds trade proposals into the message store and drives each
// proposal's one-shot lifecycle from inbound execution-result events.
type Controller struct {
	store    *chat.Store
	stream   StreamSender
	fallback FallbackSender
	userID   string
	logger   *slog.Logger

	mu         sync.Mutex
	lifecycles map[string]*stateless.StateMachine
}

// NewController creates a controller writing into the given store. Pass nil
// logger for default.
func NewController(store *chat.Store, streamSender StreamSender, fallback FallbackSender, userID string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:      store,
		stream:     streamSender,
		fallback:   fallback,
		userID:     userID,
		logger:     logger.With("component", "trade"),
		lifecycles: make(map[string]*stateless.StateMachine),
	}
}

// AttachProposal merges a proposal into its owning message, creating the
// message when none exists. ownerID is the carrying message's id when the
// proposal arrived embedded in an agent message; empty for standalone
// trade_proposal events, which resolve to the deterministic derived id.
func (c *Controller) AttachProposal(ownerID string, p chat.TradeProposal, ts time.Time) chat.Message {
	if p.Status == "" {
		p.Status = chat.StatusPending
	}

	msgID := ownerID
	if existing, ok := c.store.FindByProposalID(p.ProposalID); ok {
		msgID = existing.ID
		// A late proposal payload must not revert a settled lifecycle.
		if existing.Proposal.Status.Terminal() {
			p.Status = existing.Proposal.Status
		}
	} else if msgID == "" {
		msgID = chat.ProposalMessageID(p.ProposalID)
	}

	patch := chat.Patch{
		ID:       msgID,
		Kind:     chat.KindTradeProposal,
		Proposal: &p,
	}
	if !ts.IsZero() {
		patch.CreatedAt = ts
	}
	if _, ok := c.store.Get(msgID); !ok && p.Reasoning != "" {
		patch.Content = &p.Reasoning
	}
	msg := c.store.Upsert(patch)

	c.ensureLifecycle(p.ProposalID, p.Status)
	c.logger.Debug("proposal attached",
		"proposal_id", p.ProposalID,
		"message_id", msg.ID,
		"symbol", p.Symbol,
		"status", p.Status)
	return msg
}

// HandleOutcome applies a terminal execution result to the proposal's message
// and appends the human-readable outcome text exactly once. Duplicate or
// conflicting outcomes for a settled proposal are ignored.
func (c *Controller) HandleOutcome(proposalID string, status chat.ProposalStatus, note string) {
	msg, found := c.store.FindByProposalID(proposalID)

	initial := chat.StatusPending
	if found {
		initial = msg.Proposal.Status
	}
	fsm := c.ensureLifecycle(proposalID, initial)

	var trigger stateless.Trigger
	switch status {
	case chat.StatusExecuted:
		trigger = triggerExecuted
	case chat.StatusRejected:
		trigger = triggerRejected
	case chat.StatusFailed:
		trigger = triggerErrored
	default:
		c.logger.Warn("ignoring non-terminal outcome", "proposal_id", proposalID, "status", status)
		return
	}

	if err := fsm.Fire(trigger); err != nil {
		c.logger.Debug("duplicate trade outcome ignored",
			"proposal_id", proposalID,
			"status", status)
		return
	}

	if !found {
		// Outcome for a proposal whose terms never arrived: record it on the
		// derived message rather than losing the result.
		c.logger.Warn("outcome for unseen proposal", "proposal_id", proposalID, "status", status)
		msg = chat.Message{
			ID:       chat.ProposalMessageID(proposalID),
			Proposal: &chat.TradeProposal{ProposalID: proposalID},
		}
	}

	prop := *msg.Proposal
	prop.Status = status

	content := msg.Content
	if note == "" {
		note = defaultOutcomeNote(status, prop.Symbol)
	}
	if content != "" {
		content += "\n\n"
	}
	content += note

	c.store.Upsert(chat.Patch{
		ID:       msg.ID,
		Kind:     chat.KindTradeProposal,
		Content:  &content,
		Proposal: &prop,
	})

	c.logger.Info("trade outcome applied", "proposal_id", proposalID, "status", status)
}

// Confirm sends an execute command for a pending proposal over the live
// channel if open, else over the fallback path. A transport failure leaves
// the proposal pending and is returned for the caller to surface and retry.
func (c *Controller) Confirm(ctx context.Context, proposalID string) error {
	return c.command(ctx, proposalID, rest.TradeConfirm)
}

// Reject sends a discard command for a pending proposal.
func (c *Controller) Reject(ctx context.Context, proposalID string) error {
	return c.command(ctx, proposalID, rest.TradeReject)
}

func (c *Controller) command(ctx context.Context, proposalID string, action rest.TradeAction) error {
	msg, ok := c.store.FindByProposalID(proposalID)
	if !ok {
		return ErrUnknownProposal
	}
	if msg.Proposal.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrProposalSettled, proposalID, msg.Proposal.Status)
	}

	if c.stream.Connected() {
		var ev stream.Outbound
		if action == rest.TradeConfirm {
			ev = stream.ConfirmTrade{ProposalID: proposalID, UserID: c.userID}
		} else {
			ev = stream.RejectTrade{ProposalID: proposalID, UserID: c.userID}
		}
		if err := c.stream.Send(ev); err != nil {
			return fmt.Errorf("trade %s over stream: %w", action, err)
		}
		c.logger.Debug("trade command sent over stream", "action", action, "proposal_id", proposalID)
		return nil
	}

	return c.fallback.TradeCommand(ctx, action, proposalID)
}

// ensureLifecycle returns the proposal's state machine, creating it at the
// given status on first sight.
func (c *Controller) ensureLifecycle(proposalID string, status chat.ProposalStatus) *stateless.StateMachine {
	c.mu.Lock()
	defer c.mu.Unlock()

	fsm, ok := c.lifecycles[proposalID]
	if !ok {
		fsm = newLifecycle(status)
		c.lifecycles[proposalID] = fsm
	}
	return fsm
}

func defaultOutcomeNote(status chat.ProposalStatus, symbol string) string {
	var verb string
	switch status {
	case chat.StatusExecuted:
		verb = "executed"
	case chat.StatusRejected:
		verb = "rejected"
	default:
		verb = "failed"
	}
	if symbol == "" {
		return fmt.Sprintf("Trade %s.", verb)
	}
	return fmt.Sprintf("Trade %s: %s", verb, symbol)
}
