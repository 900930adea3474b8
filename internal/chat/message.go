// ABOUTME: Data model for conversation messages and embedded trade proposals.
// ABOUTME: Messages carry the sole merge key (id); proposals carry a one-shot status.

package chat

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the closed set of message variants.
type Kind string

const (
	KindAgent         Kind = "agent"
	KindUser          Kind = "user"
	KindSystem        Kind = "system"
	KindTradeProposal Kind = "trade_proposal"
)

// Side is the direction of a proposed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is how a proposed trade should be placed.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// ProposalStatus is the lifecycle state of a trade proposal. A proposal is
// created pending and makes exactly one transition to a terminal status.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusExecuted ProposalStatus = "executed"
	StatusRejected ProposalStatus = "rejected"
	StatusFailed   ProposalStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// TradeProposal is the trade intent embedded in a trade_proposal message.
// ProposalID is independent of the owning message id: the message may be
// created before the proposal terms are known and updated in place later.
// Monetary fields are decimals, never floats.
type TradeProposal struct {
	ProposalID string           `json:"proposalId"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	EntryPrice *decimal.Decimal `json:"entryPrice,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`
	OrderType  OrderType        `json:"orderType,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
	Status     ProposalStatus   `json:"status"`
}

// ProposalMessageID derives the deterministic message id for a proposal that
// arrives without an owning message. Outcome events are matched against this
// id when no message carries the proposal yet.
func ProposalMessageID(proposalID string) string {
	return "trade-" + proposalID
}

// Message is one entry in the conversation. At most one Message exists per
// ID in the store at any time; updates with a known ID replace fields on the
// existing entry rather than inserting a duplicate.
type Message struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	Speaker         string         `json:"speaker,omitempty"`
	Content         string         `json:"content"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Symbols         []string       `json:"symbols,omitempty"`
	MentionedAgents []string       `json:"mentionedAgents,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	Streaming       bool           `json:"streaming,omitempty"`
	Proposal        *TradeProposal `json:"tradeProposal,omitempty"`
}
