// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"medqa-platform/pkg/errors"
)

// 定宽 UTC 时间格式，保证 TEXT 列按字典序即按时间排序
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_metadata (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	memory_id       TEXT NOT NULL UNIQUE,
	type            TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_metadata_user ON memory_metadata(user_id);

CREATE TABLE IF NOT EXISTS symptom_timeline (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	symptom     TEXT NOT NULL,
	severity    INTEGER NOT NULL,
	occurred_at TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	source_type TEXT NOT NULL,
	memory_id   TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_symptom_timeline_user ON symptom_timeline(user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_symptom_timeline_memory ON symptom_timeline(memory_id);
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore 基于 SQLite 的元数据存储（单机部署与测试）
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore 打开或创建 dbPath 处的数据库并建表
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.Invalidf("sqlite path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func (s *SQLiteStore) InsertMemoryMetadata(ctx context.Context, row *MemoryMetadata) error {
	return s.insertMetadata(ctx, s.db, row)
}

func (s *SQLiteStore) insertMetadata(ctx context.Context, ex execer, row *MemoryMetadata) error {
	if row.MemoryID == "" {
		return errors.Invalidf("memory id is required")
	}
	prepareMetadata(row, s.now())
	_, err := ex.ExecContext(ctx,
		`INSERT INTO memory_metadata (id, user_id, memory_id, type, summary, content, conversation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.UserID, row.MemoryID, row.Type, row.Summary, row.Content, row.ConversationID,
		formatTime(row.CreatedAt), formatTime(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert memory metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMemoryMetadata(ctx context.Context, memoryID string, patch MetadataPatch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_metadata SET
			type = COALESCE(?, type),
			summary = COALESCE(?, summary),
			content = COALESCE(?, content),
			conversation_id = COALESCE(?, conversation_id),
			updated_at = ?
		 WHERE memory_id = ?`,
		nullable(patch.Type), nullable(patch.Summary), nullable(patch.Content), nullable(patch.ConversationID),
		formatTime(s.now()), memoryID)
	if err != nil {
		return fmt.Errorf("update memory metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "memory metadata %s", memoryID)
	}
	return nil
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func (s *SQLiteStore) GetMemoryMetadataByID(ctx context.Context, memoryID string) (*MemoryMetadata, error) {
	var row MemoryMetadata
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, memory_id, type, summary, content, conversation_id, created_at, updated_at
		 FROM memory_metadata WHERE memory_id = ?`, memoryID).
		Scan(&row.ID, &row.UserID, &row.MemoryID, &row.Type, &row.Summary, &row.Content, &row.ConversationID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory metadata: %w", err)
	}
	row.CreatedAt = parseTime(created)
	row.UpdatedAt = parseTime(updated)
	return &row, nil
}

func (s *SQLiteStore) DeleteMemoryMetadata(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_metadata WHERE memory_id = ?`, memoryID)
	return err
}

func (s *SQLiteStore) InsertSymptomTimelineEntries(ctx context.Context, userID, memoryID, sourceType string, symptoms []SymptomInput) error {
	return s.insertEntries(ctx, s.db, buildEntries(userID, memoryID, sourceType, symptoms, s.now()))
}

func (s *SQLiteStore) insertEntries(ctx context.Context, ex execer, entries []*SymptomEntry) error {
	for _, e := range entries {
		_, err := ex.ExecContext(ctx,
			`INSERT INTO symptom_timeline (id, user_id, symptom, severity, occurred_at, recorded_at, source_type, memory_id, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Description, e.Severity, formatTime(e.OccurredAt), formatTime(e.RecordedAt),
			e.SourceType, e.MemoryID, e.Confidence)
		if err != nil {
			return fmt.Errorf("insert symptom timeline: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetSymptomTimelineEntries(ctx context.Context, userID string) ([]*SymptomEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symptom, severity, occurred_at, recorded_at, source_type, memory_id, confidence
		 FROM symptom_timeline WHERE user_id = ? ORDER BY occurred_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query symptom timeline: %w", err)
	}
	defer rows.Close()

	var out []*SymptomEntry
	for rows.Next() {
		var e SymptomEntry
		var occurred, recorded string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Description, &e.Severity, &occurred, &recorded, &e.SourceType, &e.MemoryID, &e.Confidence); err != nil {
			return nil, err
		}
		e.OccurredAt = parseTime(occurred)
		e.RecordedAt = parseTime(recorded)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSymptomTimelineByMemoryID(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM symptom_timeline WHERE memory_id = ?`, memoryID)
	return err
}

func (s *SQLiteStore) RecordMemory(ctx context.Context, row *MemoryMetadata, symptoms []SymptomInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insertMetadata(ctx, tx, row); err != nil {
		return err
	}
	if err := s.insertEntries(ctx, tx, buildEntries(row.UserID, row.MemoryID, row.Type, symptoms, s.now())); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) PurgeMemory(ctx context.Context, memoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symptom_timeline WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete symptom timeline: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_metadata WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete memory metadata: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
