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
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Store 记忆元数据与症状时间线的关系存储
type Store interface {
	// InsertMemoryMetadata 写入一条记忆元数据，MemoryID 重复时报错
	InsertMemoryMetadata(ctx context.Context, row *MemoryMetadata) error
	// UpdateMemoryMetadata 按记忆 ID 局部更新，不存在时返回 errors.ErrNotFound
	UpdateMemoryMetadata(ctx context.Context, memoryID string, patch MetadataPatch) error
	// GetMemoryMetadataByID 按记忆 ID 读取，不存在时返回 nil, nil
	GetMemoryMetadataByID(ctx context.Context, memoryID string) (*MemoryMetadata, error)
	// DeleteMemoryMetadata 按记忆 ID 删除
	DeleteMemoryMetadata(ctx context.Context, memoryID string) error
	// InsertSymptomTimelineEntries 为一条记忆写入症状时间线
	InsertSymptomTimelineEntries(ctx context.Context, userID, memoryID, sourceType string, symptoms []SymptomInput) error
	// GetSymptomTimelineEntries 用户的症状时间线，按发生时间升序
	GetSymptomTimelineEntries(ctx context.Context, userID string) ([]*SymptomEntry, error)
	// DeleteSymptomTimelineByMemoryID 删除某条记忆派生的全部时间线
	DeleteSymptomTimelineByMemoryID(ctx context.Context, memoryID string) error
	// RecordMemory 在一个事务内写入元数据与时间线
	RecordMemory(ctx context.Context, row *MemoryMetadata, symptoms []SymptomInput) error
	// PurgeMemory 在一个事务内删除时间线与元数据
	PurgeMemory(ctx context.Context, memoryID string) error
	// Close 关闭存储连接
	Close() error
}

// MemoryMetadata 记忆元数据行
type MemoryMetadata struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	MemoryID       string    `json:"memoryId"`
	Type           string    `json:"type"`
	Summary        string    `json:"summary"`
	Content        string    `json:"content"` // 序列化后的记忆内容
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MetadataPatch 局部更新，nil 字段保持不变
type MetadataPatch struct {
	Type           *string
	Summary        *string
	Content        *string
	ConversationID *string
}

// Empty 是否没有任何更新字段
func (p MetadataPatch) Empty() bool {
	return p.Type == nil && p.Summary == nil && p.Content == nil && p.ConversationID == nil
}

// SymptomInput 待写入时间线的症状
type SymptomInput struct {
	Description string
	Severity    int
	OccurredAt  *time.Time
	Confidence  float64
}

// SymptomEntry 症状时间线行
type SymptomEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Description string    `json:"symptom"`
	Severity    int       `json:"severity"`
	OccurredAt  time.Time `json:"occurredAt"`
	RecordedAt  time.Time `json:"recordedAt"`
	SourceType  string    `json:"sourceType"`
	MemoryID    string    `json:"memoryId"`
	Confidence  float64   `json:"confidence"`
}

// prepareMetadata 补全 ID 与时间戳
func prepareMetadata(row *MemoryMetadata, now time.Time) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
}

// 抽取结果的取值范围
const (
	MinSeverity   = 1
	MaxSeverity   = 10
	MinConfidence = 0.0
	MaxConfidence = 1.0
)

// buildEntries 症状转时间线行；未知发生时间时取记录时间，严重度与置信度截断到合法范围
func buildEntries(userID, memoryID, sourceType string, symptoms []SymptomInput, now time.Time) []*SymptomEntry {
	out := make([]*SymptomEntry, 0, len(symptoms))
	for _, s := range symptoms {
		occurred := now
		if s.OccurredAt != nil && !s.OccurredAt.IsZero() {
			occurred = s.OccurredAt.UTC()
		}
		out = append(out, &SymptomEntry{
			ID:          ulid.Make().String(),
			UserID:      userID,
			Description: s.Description,
			Severity:    min(max(s.Severity, MinSeverity), MaxSeverity),
			OccurredAt:  occurred,
			RecordedAt:  now,
			SourceType:  sourceType,
			MemoryID:    memoryID,
			Confidence:  min(max(s.Confidence, MinConfidence), MaxConfidence),
		})
	}
	return out
}
