// ABOUTME: Fallback-path trade commands used while the stream is down.
// ABOUTME: Mirrors the confirm_trade/reject_trade stream events over HTTP.

package rest

import (
	"context"
	"fmt"
)

// TradeAction is the command verb for a proposal.
type TradeAction string

const (
	TradeConfirm TradeAction = "confirm"
	TradeReject  TradeAction = "reject"
)

type tradeCommandRequest struct {
	SessionID  string      `json:"sessionId,omitempty"`
	Action     TradeAction `json:"action"`
	ProposalID string      `json:"proposalId"`
	UserID     string      `json:"userId"`
}

// TradeCommand issues a confirm/reject intent over the request/response path.
// Fire-and-forget from the caller's perspective: the resulting status change
// arrives asynchronously as a normal inbound event. A transport-level failure
// is returned so the proposal stays pending and retryable.
func (c *Client) TradeCommand(ctx context.Context, action TradeAction, proposalID string) error {
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(tradeCommandRequest{
			SessionID:  c.SessionID(),
			Action:     action,
			ProposalID: proposalID,
			UserID:     c.user.ID,
		}).
		SetError(&apiErr).
		Post("/api/chat/trade")

	if err != nil {
		return fmt.Errorf("trade %s request: %w", action, err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}

	c.logger.Debug("trade command sent", "action", action, "proposal_id", proposalID)
	return nil
}
