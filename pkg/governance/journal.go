// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const journalTable = "approval_journal"

// JournalRecord is one audited approval decision.
type JournalRecord struct {
	ID           string
	InvocationID string
	SessionID    string
	Tool         string
	Risk         string
	Outcome      string
	Reason       string
	Auto         bool
	WaitedMs     int64
	CreatedAt    time.Time
}

// JournalFilter narrows List results.
type JournalFilter struct {
	SessionID string
	Tool      string
	Outcome   string
	Limit     int
}

// Journal records approval decisions for audit. The gate treats
// journal failures as log-worthy, never decision-changing.
type Journal interface {
	Record(ctx context.Context, record JournalRecord) error
}

// SQLiteJournal persists approval decisions in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a SQLite-backed journal and ensures schema.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			invocation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			risk TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			auto INTEGER NOT NULL,
			waited_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`, journalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id);`, journalTable, journalTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, journalTable, journalTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return &SQLiteJournal{db: db}, nil
}

// Record inserts one decision.
func (j *SQLiteJournal) Record(ctx context.Context, record JournalRecord) error {
	if record.InvocationID == "" {
		return fmt.Errorf("invocation_id is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	auto := 0
	if record.Auto {
		auto = 1
	}
	_, err := j.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, invocation_id, session_id, tool, risk, outcome, reason, auto, waited_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", journalTable),
		record.ID, record.InvocationID, record.SessionID, record.Tool, record.Risk, record.Outcome, record.Reason, auto, record.WaitedMs, record.CreatedAt.UnixMilli())
	return err
}

// List returns decisions matching the filter, newest first.
func (j *SQLiteJournal) List(ctx context.Context, filter JournalFilter) ([]*JournalRecord, error) {
	where := "1=1"
	args := make([]any, 0)
	if filter.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Tool != "" {
		where += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Outcome != "" {
		where += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query := fmt.Sprintf("SELECT id, invocation_id, session_id, tool, risk, outcome, reason, auto, waited_ms, created_at FROM %s WHERE %s ORDER BY created_at DESC%s", journalTable, where, limit)
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*JournalRecord, 0)
	for rows.Next() {
		var (
			record      JournalRecord
			auto        int
			createdAtMs int64
		)
		if err := rows.Scan(&record.ID, &record.InvocationID, &record.SessionID, &record.Tool, &record.Risk, &record.Outcome, &record.Reason, &auto, &record.WaitedMs, &createdAtMs); err != nil {
			return nil, err
		}
		record.Auto = auto == 1
		record.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, &record)
	}
	return out, rows.Err()
}
