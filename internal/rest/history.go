// ABOUTME: History-store calls: recent message fetch and atomic clear.
// ABOUTME: Persistence itself lives behind the remote service, not in this client.

package rest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/2389/deskchat/internal/chat"
)

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

type clearHistoryRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

type clearHistoryResponse struct {
	DeletedCount int `json:"deletedCount"`
}

// History fetches up to limit recent messages for the bootstrap bulk load.
func (c *Client) History(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var out historyResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/chat/messages")

	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}

	return out.Messages, nil
}

// ClearHistory requests deletion of the external history for the current
// session and returns the number of deleted entries.
func (c *Client) ClearHistory(ctx context.Context) (int, error) {
	var out clearHistoryResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(clearHistoryRequest{SessionID: c.SessionID()}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/chat/clear_history")

	if err != nil {
		return 0, fmt.Errorf("clear history request: %w", err)
	}
	if resp.IsError() {
		return 0, &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}

	return out.DeletedCount, nil
}
