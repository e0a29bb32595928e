// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	failSend  bool
	onMessage func([]byte)
	onClose   func(error)
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) sentEnvelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.sent))
	for _, data := range f.sent {
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// push delivers an inbound frame as if the server sent it.
func (f *fakeConn) push(data []byte) { f.onMessage(data) }

// drop simulates the transport closing underneath the client.
func (f *fakeConn) drop(err error) { f.onClose(err) }

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failAfter int // fail every dial once this many have succeeded; <0 never fails
}

func (d *fakeDialer) dial(_ context.Context, _ string, onMessage func([]byte), onClose func(error)) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAfter >= 0 && len(d.conns) >= d.failAfter {
		d.conns = append(d.conns, nil)
		return nil, errors.New("dial refused")
	}
	conn := &fakeConn{onMessage: onMessage, onClose: onClose}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestClient(t *testing.T, mutate func(*Config)) (*Client, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{failAfter: -1}
	cfg := DefaultConfig("ws://host/ws")
	cfg.ProjectID = "proj-1"
	cfg.Capabilities = []string{"chat"}
	cfg.HeartbeatInterval = -1 // keep timers out of tests unless asked for
	cfg.ReconnectDisabled = true
	cfg.Dial = dialer.dial
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewClient(cfg)
	t.Cleanup(c.Disconnect)
	return c, dialer
}

func encode(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.Build(env, "proj-1").Encode()
	require.NoError(t, err)
	return data
}

// =============================================================================
// CONNECT AND SEND ORDERING
// =============================================================================

func TestConnectSendsHandshakeBeforeQueuedEnvelopes(t *testing.T) {
	c, dialer := newTestClient(t, nil)

	c.SendEnvelope(protocol.Envelope{Type: protocol.TypeUserCommand, Direction: protocol.DirectionRequest, Payload: map[string]any{"n": 1}})
	c.SendEnvelope(protocol.Envelope{Type: protocol.TypeUserCommand, Direction: protocol.DirectionRequest, Payload: map[string]any{"n": 2}})
	require.Equal(t, 2, c.QueuedCount())

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateOpen, c.State())

	conn := dialer.conn(0)
	assert.Eventually(t, func() bool { return conn.sentCount() == 3 }, time.Second, 5*time.Millisecond)

	sent := conn.sentEnvelopes(t)
	assert.Equal(t, protocol.TypeHandshake, sent[0].Type)
	assert.Equal(t, "2.0.0", sent[0].PayloadString("client_version"))
	assert.Equal(t, float64(1), sent[1].Payload["n"])
	assert.Equal(t, float64(2), sent[2].Payload["n"])
	assert.Zero(t, c.QueuedCount())
}

func TestConnectIsNoOpWhileOpen(t *testing.T) {
	c, dialer := newTestClient(t, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSendUserCommandReceipt(t *testing.T) {
	c, dialer := newTestClient(t, nil)
	require.NoError(t, c.Connect(context.Background()))

	receipt := c.SendUserCommand(map[string]any{"command": "hello"})
	assert.NotEmpty(t, receipt.TraceID)
	assert.NotEmpty(t, receipt.MessageID)
	assert.NotEmpty(t, receipt.TaskID)

	conn := dialer.conn(0)
	assert.Eventually(t, func() bool { return conn.sentCount() == 2 }, time.Second, 5*time.Millisecond)

	sent := conn.sentEnvelopes(t)
	cmd := sent[1]
	assert.Equal(t, protocol.TypeUserCommand, cmd.Type)
	assert.Equal(t, receipt.TraceID, cmd.TraceID)
	assert.Equal(t, receipt.MessageID, cmd.MessageID)
	require.NotNil(t, cmd.Context)
	assert.Equal(t, receipt.TaskID, cmd.Context.TaskID)
	assert.Equal(t, "proj-1", cmd.ProjectID)
}

func TestSendFailureKeepsEnvelopeQueued(t *testing.T) {
	var errCount atomic.Int64
	c, dialer := newTestClient(t, nil)
	c.OnError(func(error) { errCount.Add(1) })
	require.NoError(t, c.Connect(context.Background()))

	conn := dialer.conn(0)
	conn.mu.Lock()
	conn.failSend = true
	conn.mu.Unlock()

	c.SendEnvelope(protocol.Envelope{Type: protocol.TypeUserCommand, Direction: protocol.DirectionRequest})

	assert.Eventually(t, func() bool { return errCount.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.QueuedCount())
}

// =============================================================================
// INBOUND HANDLING
// =============================================================================

func TestHandshakeResponsePopulatesSessionInfo(t *testing.T) {
	var got SessionInfo
	var fired bool
	c, dialer := newTestClient(t, nil)
	c.OnHandshake(func(info SessionInfo) { got, fired = info, true })
	require.NoError(t, c.Connect(context.Background()))

	dialer.conn(0).push(encode(t, protocol.Envelope{
		Type:      protocol.TypeHandshake,
		Direction: protocol.DirectionResponse,
		Payload: map[string]any{
			"session_id":         "s1",
			"server_version":     "2.0.0",
			"supported_features": []any{"a", "b"},
		},
	}))

	require.True(t, fired)
	assert.Equal(t, SessionInfo{SessionID: "s1", ServerVersion: "2.0.0", SupportedFeatures: []string{"a", "b"}}, got)

	info := c.SessionInfo()
	require.NotNil(t, info)
	assert.Equal(t, got, *info)
}

func TestHeartbeatRequestIsEchoed(t *testing.T) {
	c, dialer := newTestClient(t, nil)
	require.NoError(t, c.Connect(context.Background()))
	conn := dialer.conn(0)

	ping := encode(t, protocol.Envelope{
		Type:      protocol.TypeHeartbeat,
		Direction: protocol.DirectionRequest,
		TraceID:   "trace-hb",
		Payload:   map[string]any{"ping_time": float64(12345)},
	})
	conn.push(ping)

	assert.Eventually(t, func() bool { return conn.sentCount() >= 2 }, time.Second, 5*time.Millisecond)

	sent := conn.sentEnvelopes(t)
	echo := sent[len(sent)-1]
	assert.Equal(t, protocol.TypeHeartbeat, echo.Type)
	assert.Equal(t, protocol.DirectionResponse, echo.Direction)
	assert.Equal(t, "trace-hb", echo.TraceID)
	assert.Equal(t, float64(12345), echo.Payload["ping_time"])
}

func TestControlFramesAreNotForwarded(t *testing.T) {
	var got []protocol.MessageType
	c, dialer := newTestClient(t, nil)
	c.OnMessage(func(env protocol.Envelope) { got = append(got, env.Type) })
	require.NoError(t, c.Connect(context.Background()))
	conn := dialer.conn(0)

	conn.push(encode(t, protocol.Envelope{Type: protocol.TypeHandshake, Direction: protocol.DirectionResponse}))
	conn.push(encode(t, protocol.Envelope{Type: protocol.TypeHeartbeat, Direction: protocol.DirectionRequest}))
	conn.push(encode(t, protocol.Envelope{Type: protocol.TypeAgentThought, Direction: protocol.DirectionEvent}))
	conn.push(encode(t, protocol.Envelope{Type: protocol.TypeAgentResponse, Direction: protocol.DirectionResponse}))

	assert.Equal(t, []protocol.MessageType{protocol.TypeAgentThought, protocol.TypeAgentResponse}, got)
}

func TestMalformedFrameEmitsErrorAndStaysOpen(t *testing.T) {
	var errs []error
	c, dialer := newTestClient(t, nil)
	c.OnError(func(err error) { errs = append(errs, err) })
	require.NoError(t, c.Connect(context.Background()))

	dialer.conn(0).push([]byte("{not json"))

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], protocol.ErrMalformed)
	assert.Equal(t, StateOpen, c.State())
}

// =============================================================================
// DISCONNECT AND RECONNECT
// =============================================================================

func TestDisconnectDoesNotReconnect(t *testing.T) {
	var closed bool
	c, dialer := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectDisabled = false
		cfg.ReconnectBaseDelay = time.Millisecond
	})
	c.OnClose(func() { closed = true })
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, closed)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateClosed, c.State())
}

func TestReconnectDelayDoubles(t *testing.T) {
	c, _ := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectBaseDelay = time.Second
	})
	assert.Equal(t, time.Second, c.reconnectDelay(0))
	assert.Equal(t, 2*time.Second, c.reconnectDelay(1))
	assert.Equal(t, 4*time.Second, c.reconnectDelay(2))
}

func TestReconnectAfterDrop(t *testing.T) {
	c, dialer := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectDisabled = false
		cfg.ReconnectBaseDelay = time.Millisecond
	})
	require.NoError(t, c.Connect(context.Background()))

	dialer.conn(0).drop(errors.New("connection reset"))

	assert.Eventually(t, func() bool { return dialer.dialCount() == 2 && c.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.QueuedCount())
}

func TestReconnectStopsAfterAttemptBudget(t *testing.T) {
	dialer := &fakeDialer{failAfter: 1} // first dial succeeds, the rest refuse
	c, _ := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectDisabled = false
		cfg.ReconnectBaseDelay = time.Millisecond
		cfg.MaxReconnectAttempts = 2
		cfg.Dial = dialer.dial
	})
	require.NoError(t, c.Connect(context.Background()))

	dialer.conn(0).drop(errors.New("connection reset"))

	// One initial dial plus two failed retries; the budget is then spent.
	assert.Eventually(t, func() bool { return dialer.dialCount() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, StateError, c.State())
}

func TestQueueSurvivesDropAndFlushesOnReconnect(t *testing.T) {
	c, dialer := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectDisabled = false
		cfg.ReconnectBaseDelay = time.Millisecond
	})
	require.NoError(t, c.Connect(context.Background()))

	dialer.conn(0).drop(nil)
	c.SendEnvelope(protocol.Envelope{Type: protocol.TypeUserCommand, Direction: protocol.DirectionRequest, Payload: map[string]any{"n": 1}})

	assert.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && dialer.conn(1).sentCount() == 2
	}, time.Second, 5*time.Millisecond)

	sent := dialer.conn(1).sentEnvelopes(t)
	assert.Equal(t, protocol.TypeHandshake, sent[0].Type)
	assert.Equal(t, protocol.TypeUserCommand, sent[1].Type)
}

// =============================================================================
// HEARTBEAT LOOP
// =============================================================================

func TestHeartbeatLoopSendsPings(t *testing.T) {
	c, dialer := newTestClient(t, func(cfg *Config) {
		cfg.HeartbeatInterval = 10 * time.Millisecond
	})
	require.NoError(t, c.Connect(context.Background()))
	conn := dialer.conn(0)

	assert.Eventually(t, func() bool {
		for _, env := range conn.sentEnvelopes(t) {
			if env.Type == protocol.TypeHeartbeat && env.Direction == protocol.DirectionRequest {
				return env.Payload["ping_time"] != nil
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	c.Disconnect()
	n := conn.sentCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, conn.sentCount())
}

// =============================================================================
// LISTENERS
// =============================================================================

func TestUnregisterListenerIsIdempotent(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, nil)
	cancel := c.OnMessage(func(protocol.Envelope) { calls++ })
	require.NoError(t, c.Connect(context.Background()))

	cancel()
	cancel()

	c.msgL.dispatch(protocol.Envelope{Type: protocol.TypeAgentResponse})
	assert.Zero(t, calls)
}

func TestStateListenerSeesTransitions(t *testing.T) {
	var states []ConnectionState
	var mu sync.Mutex
	c, _ := newTestClient(t, nil)
	c.OnState(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{StateConnecting, StateOpen, StateClosed}, states)
}
