// ABOUTME: Typed event envelope for the streaming connection.
// ABOUTME: Encodes outbound events and decodes inbound frames into a closed variant set.

package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/deskchat/internal/chat"
)

// envelope is the wire frame: a type tag plus a type-specific payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is implemented by every event the client can send.
type Outbound interface {
	eventType() string
}

// Init announces the current watched-symbol set after every (re)connect, so
// the remote side re-synchronizes mutations made while the stream was down.
type Init struct {
	Symbols []string `json:"symbols"`
}

func (Init) eventType() string { return "init" }

// KeepAlive is the periodic liveness frame. It is protocol-internal and never
// surfaces as a conversation message.
type KeepAlive struct{}

func (KeepAlive) eventType() string { return "keep_alive" }

// UserMessage carries a user's chat message to the agent service.
type UserMessage struct {
	Content         string   `json:"content"`
	MentionedAgents []string `json:"mentionedAgents,omitempty"`
	Symbols         []string `json:"symbols,omitempty"`
	UserID          string   `json:"userId"`
	UserName        string   `json:"userName,omitempty"`
	UserAvatar      string   `json:"userAvatar,omitempty"`
}

func (UserMessage) eventType() string { return "user_message" }

// AddSymbols propagates watch-set additions. Best-effort: skipped entirely
// while the stream is down.
type AddSymbols struct {
	Symbols []string `json:"symbols"`
}

func (AddSymbols) eventType() string { return "add_symbols" }

// RemoveSymbols propagates watch-set removals.
type RemoveSymbols struct {
	Symbols []string `json:"symbols"`
}

func (RemoveSymbols) eventType() string { return "remove_symbols" }

// ConfirmTrade asks the remote side to execute a pending proposal.
type ConfirmTrade struct {
	ProposalID string `json:"proposalId"`
	UserID     string `json:"userId"`
}

func (ConfirmTrade) eventType() string { return "confirm_trade" }

// RejectTrade asks the remote side to discard a pending proposal.
type RejectTrade struct {
	ProposalID string `json:"proposalId"`
	UserID     string `json:"userId"`
}

func (RejectTrade) eventType() string { return "reject_trade" }

// ContextUpdate is a best-effort cache push of client-side context (quotes,
// focus symbols). Collaborators that don't use it ignore it.
type ContextUpdate struct {
	Symbols []string       `json:"symbols,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (ContextUpdate) eventType() string { return "context_update" }

// Encode wraps an outbound event in the wire envelope.
func Encode(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.eventType(), err)
	}
	return json.Marshal(envelope{Type: ev.eventType(), Data: data})
}

// Inbound is implemented by every event the remote side can deliver.
// Handlers switch exhaustively over the concrete types; Unknown is the
// forward-compatible default for types this client does not speak.
type Inbound interface {
	inboundType() string
}

// AgentMessage is agent output. The id is assigned once by the remote side
// and repeated on partial updates while content grows; Streaming stays true
// until the final update.
type AgentMessage struct {
	ID              string              `json:"id,omitempty"`
	AgentID         string              `json:"agentId"`
	Content         string              `json:"content"`
	Confidence      *float64            `json:"confidence,omitempty"`
	Symbols         []string            `json:"symbols,omitempty"`
	MentionedAgents []string            `json:"mentionedAgents,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	Streaming       bool                `json:"streaming,omitempty"`
	Proposal        *chat.TradeProposal `json:"tradeProposal,omitempty"`
}

func (AgentMessage) inboundType() string { return "agent_message" }

// TradeProposalEvent delivers a standalone trade proposal.
type TradeProposalEvent struct {
	chat.TradeProposal
	Timestamp time.Time `json:"timestamp"`
}

func (TradeProposalEvent) inboundType() string { return "trade_proposal" }

// TradeExecuted reports a successful execution of a confirmed proposal.
type TradeExecuted struct {
	ProposalID string `json:"proposalId"`
	Message    string `json:"message,omitempty"`
}

func (TradeExecuted) inboundType() string { return "trade_executed" }

// TradeRejected reports a proposal the user (or remote side) declined.
type TradeRejected struct {
	ProposalID string `json:"proposalId"`
	Message    string `json:"message,omitempty"`
}

func (TradeRejected) inboundType() string { return "trade_rejected" }

// TradeError reports an execution failure.
type TradeError struct {
	ProposalID string `json:"proposalId"`
	Message    string `json:"message,omitempty"`
}

func (TradeError) inboundType() string { return "trade_error" }

// SystemMessage is a remote-originated system notice.
type SystemMessage struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

func (SystemMessage) inboundType() string { return "system_message" }

// KeepAliveAck acknowledges a keep-alive frame. Swallowed by the connection
// manager; never delivered to event handlers.
type KeepAliveAck struct{}

func (KeepAliveAck) inboundType() string { return "keep_alive_ack" }

// ErrorEvent is a remote-reported error.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) inboundType() string { return "error" }

// Unknown preserves frames with an unrecognized type tag.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (u Unknown) inboundType() string { return u.Type }

// DecodeInbound parses a wire frame into its typed variant.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	decode := func(v Inbound) (Inbound, error) {
		if len(env.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case "agent_message":
		return decode(&AgentMessage{})
	case "trade_proposal":
		return decode(&TradeProposalEvent{})
	case "trade_executed":
		return decode(&TradeExecuted{})
	case "trade_rejected":
		return decode(&TradeRejected{})
	case "trade_error":
		return decode(&TradeError{})
	case "system_message":
		return decode(&SystemMessage{})
	case "keep_alive_ack":
		return &KeepAliveAck{}, nil
	case "error":
		return decode(&ErrorEvent{})
	default:
		return &Unknown{Type: env.Type, Data: env.Data}, nil
	}
}
