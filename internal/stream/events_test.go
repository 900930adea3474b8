// ABOUTME: Tests for the typed event envelope.
// ABOUTME: Covers outbound encoding and the closed inbound variant decoding.

package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/deskchat/internal/chat"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	data, err := Encode(Init{Symbols: []string{"NVDA", "TSLA"}})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	assert.JSONEq(t, `"init"`, string(env["type"]))
	assert.JSONEq(t, `{"symbols":["NVDA","TSLA"]}`, string(env["data"]))
}

func TestEncode_OutboundTypes(t *testing.T) {
	cases := []struct {
		ev   Outbound
		want string
	}{
		{Init{}, "init"},
		{KeepAlive{}, "keep_alive"},
		{UserMessage{Content: "hi", UserID: "u1"}, "user_message"},
		{AddSymbols{Symbols: []string{"AAPL"}}, "add_symbols"},
		{RemoveSymbols{Symbols: []string{"AAPL"}}, "remove_symbols"},
		{ConfirmTrade{ProposalID: "p1", UserID: "u1"}, "confirm_trade"},
		{RejectTrade{ProposalID: "p1", UserID: "u1"}, "reject_trade"},
		{ContextUpdate{Symbols: []string{"SPY"}}, "context_update"},
	}

	for _, tc := range cases {
		data, err := Encode(tc.ev)
		require.NoError(t, err)

		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, tc.want, env.Type)
	}
}

func TestDecodeInbound_AgentMessage(t *testing.T) {
	raw := []byte(`{
		"type": "agent_message",
		"data": {
			"id": "a1",
			"agentId": "quant",
			"content": "NVDA looks strong",
			"confidence": 0.82,
			"symbols": ["NVDA"],
			"timestamp": "2026-08-01T09:30:00Z",
			"streaming": true
		}
	}`)

	ev, err := DecodeInbound(raw)
	require.NoError(t, err)

	msg, ok := ev.(*AgentMessage)
	require.True(t, ok)
	assert.Equal(t, "a1", msg.ID)
	assert.Equal(t, "quant", msg.AgentID)
	assert.Equal(t, "NVDA looks strong", msg.Content)
	require.NotNil(t, msg.Confidence)
	assert.InDelta(t, 0.82, *msg.Confidence, 1e-9)
	assert.True(t, msg.Streaming)
	assert.Equal(t, time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC), msg.Timestamp.UTC())
}

func TestDecodeInbound_TradeProposal(t *testing.T) {
	raw := []byte(`{
		"type": "trade_proposal",
		"data": {
			"proposalId": "p1",
			"symbol": "TSLA",
			"side": "buy",
			"quantity": 5,
			"entryPrice": "212.50",
			"orderType": "limit",
			"reasoning": "breakout above resistance"
		}
	}`)

	ev, err := DecodeInbound(raw)
	require.NoError(t, err)

	prop, ok := ev.(*TradeProposalEvent)
	require.True(t, ok)
	assert.Equal(t, "p1", prop.ProposalID)
	assert.Equal(t, chat.SideBuy, prop.Side)
	assert.True(t, prop.Quantity.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, prop.EntryPrice)
	assert.True(t, prop.EntryPrice.Equal(decimal.RequireFromString("212.50")))
}

func TestDecodeInbound_TradeOutcomes(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"trade_executed","data":{"proposalId":"p1","message":"filled at 212.40"}}`))
	require.NoError(t, err)
	exec, ok := ev.(*TradeExecuted)
	require.True(t, ok)
	assert.Equal(t, "p1", exec.ProposalID)
	assert.Equal(t, "filled at 212.40", exec.Message)

	ev, err = DecodeInbound([]byte(`{"type":"trade_rejected","data":{"proposalId":"p2"}}`))
	require.NoError(t, err)
	_, ok = ev.(*TradeRejected)
	assert.True(t, ok)

	ev, err = DecodeInbound([]byte(`{"type":"trade_error","data":{"proposalId":"p3","message":"insufficient buying power"}}`))
	require.NoError(t, err)
	terr, ok := ev.(*TradeError)
	require.True(t, ok)
	assert.Equal(t, "insufficient buying power", terr.Message)
}

func TestDecodeInbound_SystemAndError(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"system_message","data":{"content":"market closed"}}`))
	require.NoError(t, err)
	sys, ok := ev.(*SystemMessage)
	require.True(t, ok)
	assert.Empty(t, sys.ID)
	assert.Equal(t, "market closed", sys.Content)

	ev, err = DecodeInbound([]byte(`{"type":"error","data":{"message":"rate limited"}}`))
	require.NoError(t, err)
	e, ok := ev.(*ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "rate limited", e.Message)
}

func TestDecodeInbound_KeepAliveAck(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"keep_alive_ack"}`))
	require.NoError(t, err)
	_, ok := ev.(*KeepAliveAck)
	assert.True(t, ok)
}

func TestDecodeInbound_UnknownTypePreserved(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"price_tick","data":{"symbol":"NVDA","price":900}}`))
	require.NoError(t, err)

	unknown, ok := ev.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, "price_tick", unknown.Type)
	assert.JSONEq(t, `{"symbol":"NVDA","price":900}`, string(unknown.Data))
}

func TestDecodeInbound_Malformed(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"type":"agent_message","data":{"confidence":"high"}}`))
	assert.Error(t, err, "payload that does not match its type tag is rejected")
}
