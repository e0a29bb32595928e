// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dawnchat/dawnchat-go/internal/events"
	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// ConnectionState is the client's position in the connection lifecycle.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosed       ConnectionState = "closed"
	StateError        ConnectionState = "error"
	StateReconnecting ConnectionState = "reconnecting"
)

// Defaults for the connection client.
const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1200 * time.Millisecond
	DefaultMaxReconnectAttempts = 5
	DefaultClientVersion        = "2.0.0"

	// Outbound flush rate. Generous: the limiter exists to keep a
	// misbehaving caller from flooding the host, not to shape traffic.
	defaultSendRate  = rate.Limit(200)
	defaultSendBurst = 50
)

// SessionInfo is the triple the host returns in its handshake response.
type SessionInfo struct {
	SessionID         string
	ServerVersion     string
	SupportedFeatures []string
}

// SendReceipt carries the identifiers of a fire-and-forget send, returned
// synchronously so the caller can correlate before any response arrives.
type SendReceipt struct {
	TraceID   string
	MessageID string
	TaskID    string
}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	URL           string
	ProjectID     string
	ClientVersion string
	Capabilities  []string

	// HeartbeatInterval of 0 takes the default; negative disables the
	// client-initiated heartbeat entirely.
	HeartbeatInterval time.Duration

	ReconnectDisabled    bool
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	SendRate  rate.Limit
	SendBurst int

	Dial DialFunc
	Sink events.Sink
}

// DefaultConfig returns the standard configuration for the endpoint at url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ClientVersion:        DefaultClientVersion,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
	}
}

// Client owns one logical connection. All sends are fire-and-forget; all
// failures surface through the error listeners.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	sink    events.Sink

	mu       sync.Mutex
	state    ConnectionState
	conn     Conn
	gen      int // connection generation; stale transport callbacks are dropped
	attempts int
	queue    [][]byte
	flushing bool
	session  *SessionInfo
	hbStop   chan struct{}
	rcTimer  *time.Timer

	stateL listeners[ConnectionState]
	openL  listeners[struct{}]
	closeL listeners[struct{}]
	errL   listeners[error]
	hsL    listeners[SessionInfo]
	msgL   listeners[protocol.Envelope]
}

// NewClient creates a client in the idle state. Nothing touches the network
// until Connect.
func NewClient(cfg Config) *Client {
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = defaultSendRate
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = defaultSendBurst
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
		sink:    sink,
		state:   StateIdle,
	}
}

// =============================================================================
// LISTENER REGISTRATION
// =============================================================================

// OnState registers a listener fired on every state transition.
func (c *Client) OnState(fn func(ConnectionState)) func() { return c.stateL.add(fn) }

// OnOpen registers a listener fired when the connection opens.
func (c *Client) OnOpen(fn func()) func() { return c.openL.add(func(struct{}) { fn() }) }

// OnClose registers a listener fired when the connection drops or closes.
func (c *Client) OnClose(fn func()) func() { return c.closeL.add(func(struct{}) { fn() }) }

// OnError registers a listener for transport and parse errors.
func (c *Client) OnError(fn func(error)) func() { return c.errL.add(fn) }

// OnHandshake registers a listener for the host's handshake response.
func (c *Client) OnHandshake(fn func(SessionInfo)) func() { return c.hsL.add(fn) }

// OnMessage registers a listener receiving every non-control envelope in
// delivery order.
func (c *Client) OnMessage(fn func(protocol.Envelope)) func() { return c.msgL.add(fn) }

// =============================================================================
// LIFECYCLE
// =============================================================================

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionInfo returns the triple from the last handshake response, or nil
// before any handshake completed.
func (c *Client) SessionInfo() *SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	info := *c.session
	return &info
}

// QueuedCount reports how many envelopes await flushing.
func (c *Client) QueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect opens the transport. A no-op while already connecting or open.
// On success the handshake is sent, queued envelopes are flushed in FIFO
// order, and the heartbeat starts. On failure the state moves to error and,
// unless reconnection is disabled or exhausted, a backoff retry is scheduled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()
	c.announceState(StateConnecting)

	conn, err := c.cfg.Dial(ctx, c.cfg.URL,
		func(data []byte) { c.handleInbound(gen, data) },
		func(cause error) { c.handleTransportClose(gen, cause) },
	)
	if err != nil {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return err
		}
		c.state = StateError
		c.mu.Unlock()
		c.announceState(StateError)
		c.emitError(err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnect raced the dial; drop the late connection.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateOpen
	// Reserve the flush slot so queued envelopes cannot jump ahead of the
	// handshake, even with senders racing Connect.
	c.flushing = true
	c.startHeartbeatLocked(gen)
	c.mu.Unlock()

	c.announceState(StateOpen)
	c.openL.dispatch(struct{}{})

	c.sendDirect(protocol.Build(protocol.Envelope{
		Type:      protocol.TypeHandshake,
		Direction: protocol.DirectionRequest,
		Payload: map[string]any{
			"client_version": c.cfg.ClientVersion,
			"capabilities":   c.cfg.Capabilities,
		},
	}, c.cfg.ProjectID))

	go c.flushLoop(gen)
	return nil
}

// Disconnect closes the connection deterministically. No reconnect follows
// this path; a later Connect starts fresh.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++ // invalidate in-flight transport callbacks
	c.stopHeartbeatLocked()
	if c.rcTimer != nil {
		c.rcTimer.Stop()
		c.rcTimer = nil
	}
	conn := c.conn
	c.conn = nil
	alreadyClosed := c.state == StateClosed || c.state == StateIdle
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !alreadyClosed {
		c.announceState(StateClosed)
		c.closeL.dispatch(struct{}{})
	}
}

// =============================================================================
// SENDING
// =============================================================================

// SendEnvelope builds the envelope, queues it, and returns it immediately.
// The envelope goes out when the transport is open; while disconnected it
// waits in FIFO order for the next successful connect.
func (c *Client) SendEnvelope(partial protocol.Envelope) protocol.Envelope {
	env := protocol.Build(partial, c.cfg.ProjectID)
	data, err := env.Encode()
	if err != nil {
		c.emitError(err)
		return env
	}

	c.mu.Lock()
	c.queue = append(c.queue, data)
	c.mu.Unlock()
	c.kickFlush()
	return env
}

// SendUserCommand sends a user_command envelope and synthesizes a task id
// for the exchange. The receipt is returned synchronously.
func (c *Client) SendUserCommand(payload map[string]any) SendReceipt {
	taskID := protocol.NewID()
	env := c.SendEnvelope(protocol.Envelope{
		Type:      protocol.TypeUserCommand,
		Direction: protocol.DirectionRequest,
		Context:   &protocol.Context{TaskID: taskID},
		Payload:   payload,
	})
	return SendReceipt{TraceID: env.TraceID, MessageID: env.MessageID, TaskID: taskID}
}

// SendHumanInterventionResponse answers a pending intervention request.
func (c *Client) SendHumanInterventionResponse(payload map[string]any) SendReceipt {
	env := c.SendEnvelope(protocol.Envelope{
		Type:      protocol.TypeHumanInterventionResponse,
		Direction: protocol.DirectionRequest,
		Payload:   payload,
	})
	return SendReceipt{TraceID: env.TraceID, MessageID: env.MessageID}
}

// sendDirect encodes and writes immediately, bypassing the queue. Used for
// control traffic (handshake, heartbeat) that must not wait behind queued
// envelopes. Failures surface through the error listeners.
func (c *Client) sendDirect(env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		c.emitError(err)
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(data); err != nil {
		c.emitError(err)
	}
}

// kickFlush starts the flush goroutine if the transport is open and no
// flush is already running.
func (c *Client) kickFlush() {
	c.mu.Lock()
	if c.flushing || c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	gen := c.gen
	c.mu.Unlock()
	go c.flushLoop(gen)
}

// flushLoop drains the queue head-first while the connection stays open.
// A failed send puts the envelope back at the head: remaining items stay
// queued in order for the next connect.
func (c *Client) flushLoop(gen int) {
	for {
		c.mu.Lock()
		if c.gen != gen {
			// A newer connection owns the flush slot now.
			c.mu.Unlock()
			return
		}
		if c.state != StateOpen || len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		data := c.queue[0]
		c.queue = c.queue[1:]
		conn := c.conn
		c.mu.Unlock()

		_ = c.limiter.Wait(context.Background())

		if err := conn.Send(data); err != nil {
			c.mu.Lock()
			c.queue = append([][]byte{data}, c.queue...)
			if c.gen == gen {
				c.flushing = false
			}
			c.mu.Unlock()
			c.emitError(err)
			return
		}
	}
}

// =============================================================================
// INBOUND
// =============================================================================

func (c *Client) handleInbound(gen int, data []byte) {
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}

	env, err := protocol.Decode(data)
	if err != nil {
		// Malformed frames are reported and otherwise ignored.
		c.emitError(err)
		return
	}

	switch env.Type {
	case protocol.TypeHandshake:
		if env.Direction == protocol.DirectionResponse {
			c.handleHandshakeResponse(env)
		}

	case protocol.TypeHeartbeat:
		if env.Direction == protocol.DirectionRequest {
			// Liveness echo: reply with the server's own ping time.
			c.sendDirect(protocol.Build(protocol.Envelope{
				Type:      protocol.TypeHeartbeat,
				Direction: protocol.DirectionResponse,
				TraceID:   env.TraceID,
				Payload:   map[string]any{"ping_time": env.Payload["ping_time"]},
			}, c.cfg.ProjectID))
		}

	default:
		c.msgL.dispatch(env)
	}
}

func (c *Client) handleHandshakeResponse(env protocol.Envelope) {
	info := SessionInfo{
		SessionID:     env.PayloadString("session_id"),
		ServerVersion: env.PayloadString("server_version"),
	}
	if raw, ok := env.Payload["supported_features"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				info.SupportedFeatures = append(info.SupportedFeatures, s)
			}
		}
	}

	c.mu.Lock()
	c.session = &info
	c.mu.Unlock()

	c.sink.Emit(events.Event{
		Level:   events.LevelInfo,
		Code:    "handshake",
		Message: "session established",
		Context: map[string]any{"session_id": info.SessionID, "server_version": info.ServerVersion},
	})
	c.hsL.dispatch(info)
}

// handleTransportClose runs once per dropped connection. Explicit
// Disconnect bumps the generation first, so this only fires for remote
// closes and transport errors.
func (c *Client) handleTransportClose(gen int, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopHeartbeatLocked()
	c.conn = nil
	next := StateClosed
	if cause != nil {
		next = StateError
	}
	c.state = next
	c.mu.Unlock()

	if cause != nil {
		c.emitError(cause)
	}
	c.announceState(next)
	c.closeL.dispatch(struct{}{})
	c.scheduleReconnect()
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func (c *Client) startHeartbeatLocked(gen int) {
	c.stopHeartbeatLocked()
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.hbStop = stop
	go c.heartbeatLoop(gen, stop)
}

func (c *Client) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

func (c *Client) heartbeatLoop(gen int, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.gen != gen || c.state != StateOpen
			c.mu.Unlock()
			if stale {
				return
			}
			c.sendDirect(protocol.Build(protocol.Envelope{
				Type:      protocol.TypeHeartbeat,
				Direction: protocol.DirectionRequest,
				Payload:   map[string]any{"ping_time": time.Now().UnixMilli()},
			}, c.cfg.ProjectID))
		}
	}
}

// =============================================================================
// RECONNECT
// =============================================================================

// reconnectDelay is the backoff for the given attempt number:
// baseDelay * 2^attempt.
func (c *Client) reconnectDelay(attempt int) time.Duration {
	return c.cfg.ReconnectBaseDelay << attempt
}

// scheduleReconnect arms the backoff timer unless reconnection is disabled
// or the attempt budget is spent, in which case the state stays where the
// close path left it and only a manual Connect retries.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.cfg.ReconnectDisabled || c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		return
	}
	delay := c.reconnectDelay(c.attempts)
	c.attempts++
	attempt := c.attempts
	c.state = StateReconnecting
	c.rcTimer = time.AfterFunc(delay, func() {
		c.Connect(context.Background())
	})
	c.mu.Unlock()

	c.sink.Emit(events.Event{
		Level:   events.LevelInfo,
		Code:    "reconnect_scheduled",
		Message: "reconnect scheduled",
		Context: map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()},
	})
	c.announceState(StateReconnecting)
}

// =============================================================================
// EVENTS
// =============================================================================

func (c *Client) announceState(s ConnectionState) {
	c.sink.Emit(events.Event{
		Level:   events.LevelDebug,
		Code:    "connection_state",
		Message: string(s),
	})
	c.stateL.dispatch(s)
}

func (c *Client) emitError(err error) {
	c.sink.Emit(events.Event{
		Level:   events.LevelError,
		Code:    "connection_error",
		Message: err.Error(),
	})
	c.errL.dispatch(err)
}
