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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "medqa-platform/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memory_metadata (
	id              UUID PRIMARY KEY,
	user_id         TEXT NOT NULL,
	memory_id       TEXT NOT NULL UNIQUE,
	type            TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	content         JSONB NOT NULL DEFAULT '{}'::jsonb,
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_memory_metadata_user ON memory_metadata(user_id);

CREATE TABLE IF NOT EXISTS symptom_timeline (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	symptom     TEXT NOT NULL,
	severity    INTEGER NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	source_type TEXT NOT NULL,
	memory_id   TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_symptom_timeline_user ON symptom_timeline(user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_symptom_timeline_memory ON symptom_timeline(memory_id);
`

// pgExecer *pgxpool.Pool 与 pgx.Tx 的公共子集
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore 基于 PostgreSQL 的元数据存储
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建连接池并确保表结构存在；poolSize <= 0 时使用 pgx 默认值
func NewPostgresStore(ctx context.Context, dsn string, poolSize int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		config.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 建表（幂等）
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) InsertMemoryMetadata(ctx context.Context, row *MemoryMetadata) error {
	return insertMetadataPg(ctx, s.pool, row)
}

func insertMetadataPg(ctx context.Context, ex pgExecer, row *MemoryMetadata) error {
	if row.MemoryID == "" {
		return apperrors.Invalidf("memory id is required")
	}
	prepareMetadata(row, time.Now().UTC())
	content := row.Content
	if content == "" {
		content = "{}"
	}
	_, err := ex.Exec(ctx,
		`INSERT INTO memory_metadata (id, user_id, memory_id, type, summary, content, conversation_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		row.ID, row.UserID, row.MemoryID, row.Type, row.Summary, content, row.ConversationID, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemoryMetadata(ctx context.Context, memoryID string, patch MetadataPatch) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_metadata SET
			type = COALESCE($1, type),
			summary = COALESCE($2, summary),
			content = COALESCE($3::jsonb, content),
			conversation_id = COALESCE($4, conversation_id),
			updated_at = now()
		 WHERE memory_id = $5`,
		patch.Type, patch.Summary, patch.Content, patch.ConversationID, memoryID)
	if err != nil {
		return fmt.Errorf("update memory metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, "memory metadata %s", memoryID)
	}
	return nil
}

func (s *PostgresStore) GetMemoryMetadataByID(ctx context.Context, memoryID string) (*MemoryMetadata, error) {
	var row MemoryMetadata
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, user_id, memory_id, type, summary, content::text, conversation_id, created_at, updated_at
		 FROM memory_metadata WHERE memory_id = $1`, memoryID).
		Scan(&row.ID, &row.UserID, &row.MemoryID, &row.Type, &row.Summary, &row.Content, &row.ConversationID, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get memory metadata: %w", err)
	}
	return &row, nil
}

func (s *PostgresStore) DeleteMemoryMetadata(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memory_metadata WHERE memory_id = $1`, memoryID)
	return err
}

func (s *PostgresStore) InsertSymptomTimelineEntries(ctx context.Context, userID, memoryID, sourceType string, symptoms []SymptomInput) error {
	return insertEntriesPg(ctx, s.pool, buildEntries(userID, memoryID, sourceType, symptoms, time.Now().UTC()))
}

func insertEntriesPg(ctx context.Context, ex pgExecer, entries []*SymptomEntry) error {
	for _, e := range entries {
		_, err := ex.Exec(ctx,
			`INSERT INTO symptom_timeline (id, user_id, symptom, severity, occurred_at, recorded_at, source_type, memory_id, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.UserID, e.Description, e.Severity, e.OccurredAt, e.RecordedAt, e.SourceType, e.MemoryID, e.Confidence)
		if err != nil {
			return fmt.Errorf("insert symptom timeline: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSymptomTimelineEntries(ctx context.Context, userID string) ([]*SymptomEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symptom, severity, occurred_at, recorded_at, source_type, memory_id, confidence
		 FROM symptom_timeline WHERE user_id = $1 ORDER BY occurred_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query symptom timeline: %w", err)
	}
	defer rows.Close()

	var out []*SymptomEntry
	for rows.Next() {
		var e SymptomEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Description, &e.Severity, &e.OccurredAt, &e.RecordedAt, &e.SourceType, &e.MemoryID, &e.Confidence); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSymptomTimelineByMemoryID(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM symptom_timeline WHERE memory_id = $1`, memoryID)
	return err
}

func (s *PostgresStore) RecordMemory(ctx context.Context, row *MemoryMetadata, symptoms []SymptomInput) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertMetadataPg(ctx, tx, row); err != nil {
			return err
		}
		return insertEntriesPg(ctx, tx, buildEntries(row.UserID, row.MemoryID, row.Type, symptoms, time.Now().UTC()))
	})
}

func (s *PostgresStore) PurgeMemory(ctx context.Context, memoryID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM symptom_timeline WHERE memory_id = $1`, memoryID); err != nil {
			return fmt.Errorf("delete symptom timeline: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM memory_metadata WHERE memory_id = $1`, memoryID); err != nil {
			return fmt.Errorf("delete memory metadata: %w", err)
		}
		return nil
	})
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
