// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one established duplex connection. Send and Close may be called
// from any goroutine.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// DialFunc opens a connection to url. Inbound frames are delivered through
// onMessage; onClose fires once when the connection drops, with the error
// that ended it (nil for a clean remote close).
type DialFunc func(ctx context.Context, url string, onMessage func(data []byte), onClose func(err error)) (Conn, error)

// =============================================================================
// WEBSOCKET TRANSPORT
// =============================================================================

// DialWebSocket is the production DialFunc.
func DialWebSocket(ctx context.Context, url string, onMessage func([]byte), onClose func(error)) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	ws := &wsConn{conn: conn}
	go ws.readLoop(onMessage, onClose)
	return ws, nil
}

// wsConn wraps a gorilla connection. The write mutex is required: gorilla
// allows at most one concurrent writer.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("websocket: connection closed")
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

func (w *wsConn) readLoop(onMessage func([]byte), onClose func(error)) {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			wasClosed := w.closed
			w.closed = true
			w.mu.Unlock()

			if wasClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				onClose(nil)
			} else {
				onClose(err)
			}
			return
		}
		onMessage(data)
	}
}
