// ABOUTME: Session engine gluing stream, fallback, store, trades, and watch set.
// ABOUTME: Dispatches inbound events, routes user actions, and runs the bootstrap.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/deskchat/internal/chat"
	"github.com/2389/deskchat/internal/config"
	"github.com/2389/deskchat/internal/dedupe"
	"github.com/2389/deskchat/internal/rest"
	"github.com/2389/deskchat/internal/stream"
	"github.com/2389/deskchat/internal/trade"
	"github.com/2389/deskchat/internal/watch"
)

const (
	sessionTimeout = 15 * time.Second
	historyTimeout = 30 * time.Second
	replayTTL      = 2 * time.Minute
	replayMaxKeys  = 512

	// How long after a reconnect the engine treats a repeated id-less payload
	// as a redelivery rather than a genuinely new message.
	replayWindow = 30 * time.Second
)

// ErrEmptyMessage indicates a send with no content.
var ErrEmptyMessage = errors.New("message content is empty")

// ConnectionState is the externally visible channel signal: process-local,
// rebuilt on each bootstrap, never persisted.
type ConnectionState struct {
	Connected         bool
	FallbackAvailable bool
	Attempt           int
	Disabled          bool
}

// Engine owns one chat session: a streaming connection, the fallback request
// channel, the reconciliation store, the trade controller, and the watch set.
// All remote failures are absorbed into system messages or the connection
// state; nothing terminates the session except an explicit Shutdown.
type Engine struct {
	logger *slog.Logger
	cfg    *config.Config

	store   *chat.Store
	stream  *stream.Manager
	rest    *rest.Client
	trades  *trade.Controller
	watched *watch.Set
	replays *dedupe.Filter

	mu           sync.RWMutex
	sessionID    string
	onState      func(ConnectionState)
	hadConnected bool
	replayUntil  time.Time
}

// New wires an engine from configuration. Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		logger:  logger.With("component", "engine"),
		cfg:     cfg,
		store:   chat.NewStore(logger),
		replays: dedupe.NewFilter(replayTTL, replayMaxKeys),
	}

	e.stream = stream.NewManager(stream.Options{
		URL:                      cfg.Gateway.WSURL,
		KeepAliveInterval:        cfg.Stream.KeepAliveInterval,
		BaseDelay:                cfg.Stream.BaseDelay,
		MaxDelay:                 cfg.Stream.MaxDelay,
		Growth:                   cfg.Stream.Growth,
		MaxAttemptsBeforeDisable: cfg.Stream.MaxAttempts,
	}, logger)

	e.rest = rest.NewClient(cfg.Gateway.HTTPURL, cfg.Fallback.Timeout, rest.Identity{
		ID:     cfg.User.ID,
		Name:   cfg.User.Name,
		Avatar: cfg.User.Avatar,
	}, logger)

	e.watched = watch.NewSet(e.stream, logger)
	e.trades = trade.NewController(e.store, e.stream, e.rest, cfg.User.ID, logger)

	e.stream.OnEvent(e.handleInbound)
	e.stream.OnStatus(e.handleStreamStatus)
	e.stream.SymbolProvider(e.watched.Symbols)
	e.rest.OnAvailable(func(bool) { e.notifyState() })

	return e
}

// Start runs the bootstrap sequence. Each step is independently
// fault-tolerant: a failure is logged and does not abort the remaining steps.
func (e *Engine) Start(ctx context.Context) {
	// 1. Session id and initial watched symbols.
	sessCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	sess, err := e.rest.Session(sessCtx)
	cancel()
	if err != nil {
		// A locally generated id keeps the session usable; the remote side
		// will assign its own on first contact.
		local := uuid.New().String()
		e.logger.Warn("session bootstrap failed, using local session id",
			"error", err, "session_id", local)
		e.setSessionID(local)
		e.rest.SetSessionID(local)
	} else {
		e.setSessionID(sess.SessionID)
		e.watched.Seed(sess.WatchedSymbols)
		e.logger.Info("session established",
			"session_id", sess.SessionID,
			"watched_symbols", len(sess.WatchedSymbols))
	}

	// 2. Streaming connection. A failed open has already scheduled its own
	// reconnect (or disabled itself); the fallback path absorbs continuity.
	if err := e.stream.Open(ctx); err != nil {
		e.logger.Warn("stream open failed during bootstrap", "error", err)
	}

	// 3. Recent history.
	histCtx, cancel := context.WithTimeout(ctx, historyTimeout)
	history, err := e.rest.History(histCtx, e.cfg.Chat.HistoryLimit)
	cancel()
	if err != nil {
		e.logger.Warn("history load failed", "error", err)
	} else {
		e.store.BulkLoad(history)
	}
}

// Shutdown closes the session cleanly: the stream shuts down without
// reconnection and all pending timers are cleared.
func (e *Engine) Shutdown() {
	e.stream.Shutdown()
	e.logger.Info("engine shut down")
}

// SessionID returns the conversation session id.
func (e *Engine) SessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionID
}

func (e *Engine) setSessionID(id string) {
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
}

// OnState registers a callback for connection-state transitions.
func (e *Engine) OnState(fn func(ConnectionState)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// OnMessagesChanged registers the store repaint hook.
func (e *Engine) OnMessagesChanged(fn func()) {
	e.store.OnChange(fn)
}

// State returns the current connection state across both channels.
func (e *Engine) State() ConnectionState {
	st := e.stream.Snapshot()
	return ConnectionState{
		Connected:         st.Connected,
		FallbackAvailable: e.rest.Available(),
		Attempt:           st.Attempt,
		Disabled:          st.Disabled,
	}
}

// handleStreamStatus tracks connection transitions. A re-connect (any open
// after the first) arms the replay window: the remote side may redeliver
// events sent while the connection was going down, and id-less payloads have
// no id for the store to merge them on.
func (e *Engine) handleStreamStatus(st stream.Status) {
	if st.Connected {
		e.mu.Lock()
		if e.hadConnected {
			e.replayUntil = time.Now().Add(replayWindow)
		}
		e.hadConnected = true
		e.mu.Unlock()
	}
	e.notifyState()
}

// replaySuspect records the key of an id-less payload and reports whether it
// should be dropped as a redelivery. Keys are always recorded so that the
// pre-disconnect delivery is remembered, but a repeat only counts as a replay
// inside the post-reconnect window; in steady state an agent answering the
// same thing twice is two messages.
func (e *Engine) replaySuspect(key string) bool {
	dup := e.replays.Duplicate(key)

	e.mu.RLock()
	armed := time.Now().Before(e.replayUntil)
	e.mu.RUnlock()

	return dup && armed
}

func (e *Engine) notifyState() {
	e.mu.RLock()
	fn := e.onState
	e.mu.RUnlock()

	if fn != nil {
		fn(e.State())
	}
}

// Messages returns the conversation, sorted ascending by CreatedAt.
func (e *Engine) Messages() []chat.Message {
	return e.store.Messages()
}

// SendMessage records an optimistic local echo, then delivers over the
// stream if open, else over the fallback channel. Fallback failures are
// absorbed into system notices per the error-propagation policy; the call
// blocks for the fallback round-trip, so run it off the rendering loop.
// Returns the local message id.
func (e *Engine) SendMessage(ctx context.Context, content string, mentionedAgents, symbols []string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}

	// Optimistic local entry; the remote echo merges onto it by id.
	id := uuid.New().String()
	e.store.Upsert(chat.Patch{
		ID:              id,
		Kind:            chat.KindUser,
		Speaker:         e.cfg.User.ID,
		Content:         &content,
		Symbols:         symbols,
		MentionedAgents: mentionedAgents,
		CreatedAt:       time.Now(),
	})

	if e.stream.Connected() {
		err := e.stream.Send(stream.UserMessage{
			Content:         content,
			MentionedAgents: mentionedAgents,
			Symbols:         symbols,
			UserID:          e.cfg.User.ID,
			UserName:        e.cfg.User.Name,
			UserAvatar:      e.cfg.User.Avatar,
		})
		if err == nil {
			return id, nil
		}
		e.logger.Warn("stream send failed, falling back", "error", err)
	}

	e.sendViaFallback(ctx, content, mentionedAgents, symbols)
	return id, nil
}

// sendViaFallback delivers over the request channel and surfaces each of the
// three outcomes (success, timeout, transport failure) distinctly.
func (e *Engine) sendViaFallback(ctx context.Context, content string, mentionedAgents, symbols []string) {
	responses, err := e.rest.SendUserMessage(ctx, content, mentionedAgents, symbols)

	switch {
	case err == nil:
		for _, resp := range responses {
			e.applyAgentResponse(resp)
		}
	case errors.Is(err, rest.ErrTimeout):
		e.systemNotice("The agent service is responding slowly. Your message was sent, but no reply arrived in time.")
	default:
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			e.systemNotice(fmt.Sprintf("Agent service error: %s", apiErr.Message))
		} else {
			e.systemNotice("Agent service unreachable. Your message could not be delivered.")
		}
		e.notifyState()
	}
}

// applyAgentResponse merges a fallback agent reply through the same id-keyed
// path as stream events, so a cross-channel race resolves safely.
func (e *Engine) applyAgentResponse(resp rest.AgentResponse) {
	msg := e.store.Upsert(chat.Patch{
		ID:              resp.ID,
		Kind:            chat.KindAgent,
		Speaker:         resp.AgentID,
		Content:         &resp.Content,
		Confidence:      resp.Confidence,
		Symbols:         resp.Symbols,
		MentionedAgents: resp.MentionedAgents,
		CreatedAt:       resp.Timestamp,
	})
	if resp.Proposal != nil {
		e.trades.AttachProposal(msg.ID, *resp.Proposal, resp.Timestamp)
	}
}

// ConfirmTrade asks the remote side to execute a pending proposal.
func (e *Engine) ConfirmTrade(ctx context.Context, proposalID string) error {
	return e.trades.Confirm(ctx, proposalID)
}

// RejectTrade asks the remote side to discard a pending proposal.
func (e *Engine) RejectTrade(ctx context.Context, proposalID string) error {
	return e.trades.Reject(ctx, proposalID)
}

// WatchSymbol adds a symbol to the watch set. Reports whether membership
// changed.
func (e *Engine) WatchSymbol(symbol string) bool {
	return e.watched.Add(symbol)
}

// UnwatchSymbol removes a symbol from the watch set.
func (e *Engine) UnwatchSymbol(symbol string) bool {
	return e.watched.Remove(symbol)
}

// WatchedSymbols returns the watch set as a sorted slice.
func (e *Engine) WatchedSymbols() []string {
	return e.watched.Symbols()
}

// CompleteStream marks a streamed message finished. Called by the rendering
// layer's completion callback; the store never times this out on its own.
// A completion for an unknown id is dropped rather than creating an entry.
func (e *Engine) CompleteStream(messageID string) {
	if _, ok := e.store.Get(messageID); !ok {
		e.logger.Debug("stream completion for unknown message", "message_id", messageID)
		return
	}
	done := false
	e.store.Upsert(chat.Patch{ID: messageID, Streaming: &done})
}

// PushContext sends a best-effort context_update over the stream. Errors are
// ignored; collaborators that don't use the cache push ignore the event.
func (e *Engine) PushContext(data map[string]any) {
	ev := stream.ContextUpdate{Symbols: e.watched.Symbols(), Data: data}
	if err := e.stream.Send(ev); err != nil {
		e.logger.Debug("context push skipped", "error", err)
	}
}

// ResetStream re-arms a disabled streaming connection and opens it. This is
// the explicit session-restart path; the engine never re-probes on its own.
func (e *Engine) ResetStream(ctx context.Context) {
	e.stream.Reset()
	if err := e.stream.Open(ctx); err != nil {
		e.logger.Warn("stream reopen failed", "error", err)
	}
}

// ClearConversation atomically clears the local store and requests deletion
// of the external history. Returns the remote deleted count.
func (e *Engine) ClearConversation(ctx context.Context) (int, error) {
	e.store.Clear()

	deleted, err := e.rest.ClearHistory(ctx)
	if err != nil {
		e.logger.Warn("remote history clear failed", "error", err)
		e.systemNotice("Conversation cleared locally, but the remote history could not be deleted.")
		return 0, err
	}
	return deleted, nil
}

// handleInbound dispatches a typed inbound event from the stream. Events are
// processed in arrival order; keep-alive acks never reach this handler.
func (e *Engine) handleInbound(ev stream.Inbound) {
	switch ev := ev.(type) {
	case *stream.AgentMessage:
		e.handleAgentMessage(ev)

	case *stream.TradeProposalEvent:
		e.trades.AttachProposal("", ev.TradeProposal, ev.Timestamp)

	case *stream.TradeExecuted:
		e.trades.HandleOutcome(ev.ProposalID, chat.StatusExecuted, ev.Message)

	case *stream.TradeRejected:
		e.trades.HandleOutcome(ev.ProposalID, chat.StatusRejected, ev.Message)

	case *stream.TradeError:
		e.trades.HandleOutcome(ev.ProposalID, chat.StatusFailed, ev.Message)

	case *stream.SystemMessage:
		if ev.ID == "" && e.replaySuspect("system\x00"+ev.Content) {
			return
		}
		e.store.Upsert(chat.Patch{
			ID:        ev.ID,
			Kind:      chat.KindSystem,
			Content:   &ev.Content,
			CreatedAt: time.Now(),
		})

	case *stream.ErrorEvent:
		e.systemNotice(ev.Message)

	default:
		// Forward-compatible: unknown event types are logged and dropped.
		e.logger.Debug("ignoring unknown inbound event", "type", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) handleAgentMessage(ev *stream.AgentMessage) {
	if ev.ID == "" && e.replaySuspect("agent\x00"+ev.AgentID+"\x00"+ev.Content) {
		return
	}

	kind := chat.KindAgent
	if ev.Proposal != nil {
		kind = chat.KindTradeProposal
	}

	streaming := ev.Streaming
	patch := chat.Patch{
		ID:              ev.ID,
		Kind:            kind,
		Speaker:         ev.AgentID,
		Content:         &ev.Content,
		Confidence:      ev.Confidence,
		Symbols:         ev.Symbols,
		MentionedAgents: ev.MentionedAgents,
		CreatedAt:       ev.Timestamp,
		Streaming:       &streaming,
	}
	msg := e.store.Upsert(patch)

	if ev.Proposal != nil {
		e.trades.AttachProposal(msg.ID, *ev.Proposal, ev.Timestamp)
	}
}

// systemNotice records a locally-originated system message.
func (e *Engine) systemNotice(content string) {
	e.store.Upsert(chat.Patch{
		ID:        uuid.New().String(),
		Kind:      chat.KindSystem,
		Content:   &content,
		CreatedAt: time.Now(),
	})
}
