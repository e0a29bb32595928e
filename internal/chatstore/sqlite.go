// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// SQLite schema for the message store. One row per (session, message), keyed
// the same way the browser-side store keys its object store entries:
// "{sessionKey}:{messageID}".
const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
    store_key    TEXT PRIMARY KEY,   -- "{sessionKey}:{messageID}"
    session_key  TEXT NOT NULL,
    message_id   TEXT NOT NULL,
    trace_id     TEXT,
    message_type TEXT NOT NULL,
    project_id   TEXT,
    sender_id    TEXT NOT NULL,
    status       TEXT,
    timestamp    INTEGER NOT NULL,   -- milliseconds since epoch
    payload      TEXT NOT NULL       -- JSON
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`

// SQLiteAdapter persists session messages in an embedded SQLite database.
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter opens (creating if necessary) the database at path and
// ensures the schema exists.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(messagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

// Close releases the underlying database handle.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// LoadSessionMessages returns every message stored under the session key,
// sorted by timestamp ascending.
func (a *SQLiteAdapter) LoadSessionMessages(ctx context.Context, key string) ([]protocol.RawMessage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT message_id, trace_id, message_type, project_id, sender_id, status, timestamp, payload
		FROM messages WHERE session_key = ? ORDER BY timestamp ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", key, err)
	}
	defer rows.Close()

	var msgs []protocol.RawMessage
	for rows.Next() {
		var (
			m       protocol.RawMessage
			trace   sql.NullString
			project sql.NullString
			status  sql.NullString
			payload string
		)
		if err := rows.Scan(&m.ID, &trace, (*string)(&m.MessageType), &project, (*string)(&m.SenderID), &status, &m.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.TraceID = trace.String
		m.ProjectID = project.String
		m.Status = status.String
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			// A corrupted payload should not hide the rest of the session.
			m.Payload = map[string]any{}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveMessage upserts the message under "{key}:{messageID}".
func (a *SQLiteAdapter) SaveMessage(ctx context.Context, key string, msg protocol.RawMessage) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO messages (store_key, session_key, message_id, trace_id, message_type, project_id, sender_id, status, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_key) DO UPDATE SET
			trace_id = excluded.trace_id,
			message_type = excluded.message_type,
			project_id = excluded.project_id,
			sender_id = excluded.sender_id,
			status = excluded.status,
			timestamp = excluded.timestamp,
			payload = excluded.payload`,
		key+":"+msg.ID, key, msg.ID, msg.TraceID, string(msg.MessageType),
		msg.ProjectID, string(msg.SenderID), msg.Status, msg.Timestamp, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save message %q: %w", msg.ID, err)
	}
	return nil
}

// UpdateMessage is the same upsert as SaveMessage.
func (a *SQLiteAdapter) UpdateMessage(ctx context.Context, key string, msg protocol.RawMessage) error {
	return a.SaveMessage(ctx, key, msg)
}

// ClearSession range-deletes every message under the session key.
func (a *SQLiteAdapter) ClearSession(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM messages WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear session %q: %w", key, err)
	}
	return nil
}
