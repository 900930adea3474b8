// ABOUTME: Session-service call used once at bootstrap.
// ABOUTME: Returns the conversation session id and the initial watched symbols.

package rest

import (
	"context"
	"fmt"
)

// SessionInfo is the session service's bootstrap payload.
type SessionInfo struct {
	SessionID      string   `json:"sessionId"`
	WatchedSymbols []string `json:"watchedSymbols"`
}

// Session requests (or creates) the conversation session and its initial
// watched-symbol list.
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	var out SessionInfo
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/chat/session")

	if err != nil {
		return nil, fmt.Errorf("session request: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error}
	}

	c.SetSessionID(out.SessionID)
	return &out, nil
}
