// ABOUTME: HTTP client for the agent-chat service's request/response surface.
// ABOUTME: Carries the fallbackAvailable signal derived from call outcomes.

package rest

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Identity is the user identity attached to outbound requests.
type Identity struct {
	ID     string
	Name   string
	Avatar string
}

// Client is the stateless request/response path to the chat service. Each
// call is independent; session affinity is carried only by the explicit
// session id. The client tracks fallback availability: a successful message
// call sets it, a transport failure clears it, a timeout leaves it untouched
// (the service may be slow, not down).
type Client struct {
	http   *resty.Client
	logger *slog.Logger
	user   Identity

	mu          sync.RWMutex
	sessionID   string
	available   bool
	onAvailable func(bool)
}

// NewClient creates a client for the given base URL. The timeout bounds the
// slow message call (downstream generation can take minutes); shorter
// operations are bounded by their caller's context. Pass nil logger for
// default.
func NewClient(baseURL string, timeout time.Duration, user Identity, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	http := resty.New()
	http.SetBaseURL(baseURL)
	http.SetTimeout(timeout)
	http.SetHeader("Content-Type", "application/json")

	return &Client{
		http:      http,
		logger:    logger.With("component", "rest"),
		user:      user,
		available: true,
	}
}

// SetSessionID records the conversation session id passed on subsequent calls.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID returns the current conversation session id.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Available reports whether the fallback path is believed reachable.
func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// OnAvailable registers a callback for availability transitions.
func (c *Client) OnAvailable(fn func(bool)) {
	c.mu.Lock()
	c.onAvailable = fn
	c.mu.Unlock()
}

func (c *Client) setAvailable(v bool) {
	c.mu.Lock()
	changed := c.available != v
	c.available = v
	fn := c.onAvailable
	c.mu.Unlock()

	if changed && fn != nil {
		fn(v)
	}
}
