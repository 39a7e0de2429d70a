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
package memory

import (
	"time"
)

// MemoryType 记忆类型
type MemoryType string

const (
	TypeSymptom      MemoryType = "symptom"
	TypeConversation MemoryType = "conversation"
	TypePreference   MemoryType = "preference"
	TypeMedicalEvent MemoryType = "medical_event"
)

// Valid 是否为已知类型
func (t MemoryType) Valid() bool {
	switch t {
	case TypeSymptom, TypeConversation, TypePreference, TypeMedicalEvent:
		return true
	default:
		return false
	}
}

// ExtractedSymptom 从文本中抽取的症状
type ExtractedSymptom struct {
	Description string     `json:"description"`
	Severity    int        `json:"severity"` // 1-10
	TimeContext string     `json:"timeContext,omitempty"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
	Confidence  float64    `json:"confidence"` // 0.0-1.0
}

// MemoryContent 记忆内容
type MemoryContent struct {
	OriginalText      string             `json:"originalText"`
	ExtractedSymptoms []ExtractedSymptom `json:"extractedSymptoms,omitempty"`
	Concerns          []string           `json:"concerns,omitempty"`
	Summary           string             `json:"summary,omitempty"`
}

// RecordMetadata 记忆来源信息
type RecordMetadata struct {
	Source         string     `json:"source,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// MemoryRecord 记忆服务中的一条记忆
type MemoryRecord struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userId"`
	Type     MemoryType     `json:"type"`
	Content  MemoryContent  `json:"content"`
	Metadata RecordMetadata `json:"metadata"`
}

// StoreParams 写入参数
type StoreParams struct {
	UserID         string        `json:"userId"`
	Type           MemoryType    `json:"type"`
	Content        MemoryContent `json:"content"`
	Source         string        `json:"source,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	// SkipExtraction 为 true 时不调用实体抽取
	SkipExtraction bool `json:"skipExtraction,omitempty"`
}

// RetrieveParams 查询参数；除 IncludeSummary 外全部参与缓存 key
type RetrieveParams struct {
	UserID         string       `json:"userId"`
	Types          []MemoryType `json:"types,omitempty"`
	Query          string       `json:"query,omitempty"`
	Since          *time.Time   `json:"since,omitempty"`
	Until          *time.Time   `json:"until,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	IncludeSummary bool         `json:"-"`
}

// RetrieveResult 查询结果
type RetrieveResult struct {
	Records []MemoryRecord `json:"memories"`
	Total   int            `json:"total"`
	Summary string         `json:"summary,omitempty"`
}

// ExtractionResult 医学实体抽取结果
type ExtractionResult struct {
	Symptoms []ExtractedSymptom `json:"symptoms"`
	Concerns []string           `json:"concerns"`
	Summary  string             `json:"summary"`
}

// UpdateParams 本地元数据的局部更新，nil 字段不变
type UpdateParams struct {
	Type    *MemoryType    `json:"type,omitempty"`
	Summary *string        `json:"summary,omitempty"`
	Content *MemoryContent `json:"content,omitempty"`
}

// TrendDirection 症状趋势
type TrendDirection string

const (
	TrendWorsening TrendDirection = "worsening"
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
)

// SymptomTrend 单个症状的趋势
type SymptomTrend struct {
	Symptom       string         `json:"symptom"`
	Direction     TrendDirection `json:"direction"`
	Observations  int            `json:"observations"`
	FirstSeverity int            `json:"firstSeverity"`
	LastSeverity  int            `json:"lastSeverity"`
}

// TrendReport 按趋势分组的症状描述，另附每个症状的明细（与首次出现顺序一致）
type TrendReport struct {
	Worsening []string       `json:"worsening"`
	Improving []string       `json:"improving"`
	Stable    []string       `json:"stable"`
	Details   []SymptomTrend `json:"details"`
}
