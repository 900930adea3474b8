// ABOUTME: Fallback user-message call with a three-way outcome contract.
// ABOUTME: Distinguishes success, timeout, and transport failure for the caller.

package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/2389/deskchat/internal/chat"
)

// ErrTimeout indicates the message call exceeded its long upper bound. The
// in-flight request is abandoned, not retried; fallback availability is left
// unchanged because the service may simply be slow.
var ErrTimeout = errors.New("fallback request timed out")

// APIError is a non-2xx application response, carrying the server-provided
// message when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat service error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chat service error (HTTP %d)", e.StatusCode)
}

// AgentResponse is one agent reply returned by the fallback endpoint.
type AgentResponse struct {
	ID              string              `json:"id,omitempty"`
	AgentID         string              `json:"agentId"`
	Content         string              `json:"content"`
	Confidence      *float64            `json:"confidence,omitempty"`
	Symbols         []string            `json:"symbols,omitempty"`
	MentionedAgents []string            `json:"mentionedAgents,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	Proposal        *chat.TradeProposal `json:"tradeProposal,omitempty"`
}

type sendMessageRequest struct {
	SessionID       string   `json:"sessionId,omitempty"`
	Content         string   `json:"content"`
	MentionedAgents []string `json:"mentionedAgents,omitempty"`
	Symbols         []string `json:"symbols,omitempty"`
	UserID          string   `json:"userId"`
	UserName        string   `json:"userName,omitempty"`
	UserAvatar      string   `json:"userAvatar,omitempty"`
}

type sendMessageResponse struct {
	Responses []AgentResponse `json:"responses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SendUserMessage delivers a user message over the request/response path and
// returns zero or more agent replies. Errors are one of ErrTimeout, *APIError,
// or a wrapped transport error (which also marks the fallback unavailable).
func (c *Client) SendUserMessage(ctx context.Context, content string, mentionedAgents, symbols []string) ([]AgentResponse, error) {
	req := sendMessageRequest{
		SessionID:       c.SessionID(),
		Content:         content,
		MentionedAgents: mentionedAgents,
		Symbols:         symbols,
		UserID:          c.user.ID,
		UserName:        c.user.Name,
		UserAvatar:      c.user.Avatar,
	}

	var out sendMessageResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/chat/message")

	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("fallback message timed out")
			return nil, ErrTimeout
		}
		c.setAvailable(false)
		c.logger.Warn("fallback message transport failure", "error", err)
		return nil, fmt.Errorf("fallback transport: %w", err)
	}

	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}

	c.setAvailable(true)
	c.logger.Debug("fallback message delivered", "responses", len(out.Responses))
	return out.Responses, nil
}

// isTimeout distinguishes a deadline expiry from a hard transport failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
