// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const conversationTable = "conversation_messages"

// SQLiteConversation implements ConversationStore with SQLite storage.
// Suitable for persistent local history across CLI invocations.
type SQLiteConversation struct {
	db     *sql.DB
	config ConversationConfig
}

// NewSQLiteConversation creates a SQLite-backed conversation store and
// ensures its schema. The caller owns the *sql.DB.
func NewSQLiteConversation(db *sql.DB, config ConversationConfig) (*SQLiteConversation, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureConversationSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteConversation{db: db, config: config}, nil
}

func ensureConversationSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`, conversationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id, created_at, id);`, conversationTable, conversationTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage adds a message to the conversation.
func (s *SQLiteConversation) AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	metadataJSON := ""
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, session_id, role, content, tool_call_id, metadata_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", conversationTable),
		msg.ID, sessionID, msg.Role, msg.Content, msg.ToolCallID, metadataJSON, msg.CreatedAt.UnixMilli())
	return err
}

// GetMessages retrieves all messages for a session.
func (s *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	query := fmt.Sprintf(
		"SELECT id, session_id, role, content, tool_call_id, metadata_json, created_at FROM %s WHERE session_id = ? ORDER BY created_at ASC, id ASC",
		conversationTable)

	messages, err := s.queryMessages(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}

	if s.config.TruncationStrategy != nil && len(messages) > 0 {
		return s.config.TruncationStrategy.Truncate(ctx, messages)
	}
	return messages, nil
}

// GetRecentMessages retrieves the last N messages for a session.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	query := fmt.Sprintf(`SELECT id, session_id, role, content, tool_call_id, metadata_json, created_at FROM (
		SELECT id, session_id, role, content, tool_call_id, metadata_json, created_at
		FROM %s WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	) ORDER BY created_at ASC, id ASC`, conversationTable)

	return s.queryMessages(ctx, query, sessionID, limit)
}

// Clear removes all messages for a session.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", conversationTable), sessionID)
	return err
}

// DeleteOldSessions removes all messages from sessions whose last
// activity is older than the given duration. Returns rows deleted.
func (s *SQLiteConversation) DeleteOldSessions(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-inactiveFor).UnixMilli()
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id IN (
		SELECT session_id FROM %s GROUP BY session_id HAVING MAX(created_at) < ?
	)`, conversationTable, conversationTable)

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListSessions returns all session IDs with recorded messages.
func (s *SQLiteConversation) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT session_id FROM %s ORDER BY session_id", conversationTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, err
		}
		sessions = append(sessions, sessionID)
	}
	return sessions, rows.Err()
}

func (s *SQLiteConversation) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var msg ConversationMessage
		var metadataJSON string
		var createdAtMs int64

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ToolCallID, &metadataJSON, &createdAtMs); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.UnixMilli(createdAtMs)
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &msg.Metadata); err != nil {
				msg.Metadata = nil
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
