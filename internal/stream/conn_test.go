// ABOUTME: Tests for the connection manager lifecycle.
// ABOUTME: Scripted wire connections drive dial failures, frame dispatch, and the disable threshold.

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted wire connection. Frames pushed into inbound come out
// of ReadMessage; writes are recorded. Closing done (or the inbound channel)
// fails the read loop like a dropped connection.
type fakeConn struct {
	mu      sync.Mutex
	writes  [][]byte
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection reset by peer")
		}
		return websocket.TextMessage, data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) writtenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, data := range c.writes {
		var env envelope
		if json.Unmarshal(data, &env) == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_Send_NotConnected(t *testing.T) {
	m := NewManager(Options{URL: "ws://unused"}, quietLogger())

	err := m.Send(UserMessage{Content: "hello"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_Open_SendsInitWithSymbols(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Options{URL: "ws://unused"}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) { return conn, nil }
	m.SymbolProvider(func() []string { return []string{"NVDA", "TSLA"} })

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()

	assert.True(t, m.Connected())

	conn.mu.Lock()
	require.NotEmpty(t, conn.writes)
	first := conn.writes[0]
	conn.mu.Unlock()

	var env envelope
	require.NoError(t, json.Unmarshal(first, &env))
	assert.Equal(t, "init", env.Type)

	var init Init
	require.NoError(t, json.Unmarshal(env.Data, &init))
	assert.Equal(t, []string{"NVDA", "TSLA"}, init.Symbols)
}

func TestManager_ReadLoop_DispatchesInOrder(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Options{URL: "ws://unused"}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) { return conn, nil }

	events := make(chan Inbound, 16)
	m.OnEvent(func(ev Inbound) { events <- ev })

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()

	conn.inbound <- []byte(`{"type":"agent_message","data":{"id":"a1","content":"first"}}`)
	conn.inbound <- []byte(`{"type":"keep_alive_ack"}`)
	conn.inbound <- []byte(`{"type":"system_message","data":{"content":"second"}}`)

	ev := <-events
	msg, ok := ev.(*AgentMessage)
	require.True(t, ok)
	assert.Equal(t, "first", msg.Content)

	// The keep-alive ack is swallowed; the system message arrives next.
	ev = <-events
	sys, ok := ev.(*SystemMessage)
	require.True(t, ok)
	assert.Equal(t, "second", sys.Content)
}

func TestManager_ReadLoop_SkipsUndecodableFrames(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Options{URL: "ws://unused"}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) { return conn, nil }

	events := make(chan Inbound, 16)
	m.OnEvent(func(ev Inbound) { events <- ev })

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()

	conn.inbound <- []byte(`garbage`)
	conn.inbound <- []byte(`{"type":"system_message","data":{"content":"still alive"}}`)

	ev := <-events
	sys, ok := ev.(*SystemMessage)
	require.True(t, ok)
	assert.Equal(t, "still alive", sys.Content)
	assert.True(t, m.Connected(), "a bad frame must not drop the connection")
}

func TestManager_DisableThreshold(t *testing.T) {
	dials := 0
	m := NewManager(Options{
		URL:                      "ws://unused",
		BaseDelay:                time.Hour,
		MaxDelay:                 2 * time.Hour,
		MaxAttemptsBeforeDisable: 3,
	}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	for i := 0; i < 3; i++ {
		err := m.Open(context.Background())
		assert.Error(t, err)
	}
	require.Equal(t, 3, dials)

	st := m.Snapshot()
	assert.True(t, st.Disabled)
	assert.Equal(t, 3, st.Attempt)

	// Disabled means no network attempt at all.
	err := m.Open(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, 3, dials)
}

func TestManager_Reset_ReArmsDisabled(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	m := NewManager(Options{
		URL:                      "ws://unused",
		BaseDelay:                time.Hour,
		MaxAttemptsBeforeDisable: 2,
	}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) {
		dials++
		if dials <= 2 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	_ = m.Open(context.Background())
	_ = m.Open(context.Background())
	require.ErrorIs(t, m.Open(context.Background()), ErrDisabled)

	m.Reset()
	assert.Equal(t, 0, m.Snapshot().Attempt)

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()
	assert.True(t, m.Connected())
}

func TestManager_ReconnectsAfterConnectionLoss(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	var mu sync.Mutex
	dials := 0
	m := NewManager(Options{
		URL:       "ws://unused",
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn := conns[dials]
		dials++
		return conn, nil
	}

	var statuses []Status
	m.OnStatus(func(st Status) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()

	// Remote side drops the connection.
	close(conns[0].inbound)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials == 2
	}, "manager never redialed after connection loss")
	waitFor(t, m.Connected, "manager never recovered to open")

	// The disconnect was visible to observers before the recovery.
	mu.Lock()
	sawDown := false
	for _, st := range statuses {
		if !st.Connected && st.Attempt == 1 {
			sawDown = true
		}
	}
	mu.Unlock()
	assert.True(t, sawDown)
	assert.Equal(t, 0, m.Snapshot().Attempt, "successful reconnect clears the attempt counter")
}

func TestManager_KeepAliveEmission(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Options{
		URL:               "ws://unused",
		KeepAliveInterval: 10 * time.Millisecond,
	}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) { return conn, nil }

	require.NoError(t, m.Open(context.Background()))
	defer m.Shutdown()

	waitFor(t, func() bool {
		for _, typ := range conn.writtenTypes() {
			if typ == "keep_alive" {
				return true
			}
		}
		return false
	}, "no keep-alive frame was written")
}

func TestManager_Shutdown_NeverReconnects(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	m := NewManager(Options{
		URL:       "ws://unused",
		BaseDelay: time.Millisecond,
	}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) {
		dials++
		return conn, nil
	}

	require.NoError(t, m.Open(context.Background()))
	m.Shutdown()

	assert.False(t, m.Connected())
	assert.ErrorIs(t, m.Send(UserMessage{Content: "late"}), ErrNotConnected)
	assert.ErrorIs(t, m.Open(context.Background()), ErrShutDown)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dials, "a clean shutdown must not trigger redials")
}

func TestManager_Shutdown_SendsCloseFrame(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(Options{URL: "ws://unused"}, quietLogger())
	m.dial = func(_ context.Context, _ string) (wireConn, error) { return conn, nil }

	require.NoError(t, m.Open(context.Background()))
	m.Shutdown()

	select {
	case <-conn.done:
	default:
		t.Fatal("underlying connection was not closed")
	}
}
