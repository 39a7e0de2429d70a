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
	"fmt"
	"sort"
	"sync"
	"time"

	"medqa-platform/pkg/errors"
)

// MemoryStore 内存实现，用于开发与测试
type MemoryStore struct {
	mu       sync.RWMutex
	rows     map[string]*MemoryMetadata // memoryID -> row
	timeline []*SymptomEntry
	now      func() time.Time
}

// NewMemoryStore 创建新的内存元数据存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*MemoryMetadata),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) InsertMemoryMetadata(ctx context.Context, row *MemoryMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(row)
}

func (s *MemoryStore) insertLocked(row *MemoryMetadata) error {
	if row.MemoryID == "" {
		return errors.Invalidf("memory id is required")
	}
	if _, exists := s.rows[row.MemoryID]; exists {
		return fmt.Errorf("memory metadata %s already exists", row.MemoryID)
	}
	prepareMetadata(row, s.now())
	cp := *row
	s.rows[row.MemoryID] = &cp
	return nil
}

func (s *MemoryStore) UpdateMemoryMetadata(ctx context.Context, memoryID string, patch MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[memoryID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "memory metadata %s", memoryID)
	}
	if patch.Type != nil {
		row.Type = *patch.Type
	}
	if patch.Summary != nil {
		row.Summary = *patch.Summary
	}
	if patch.Content != nil {
		row.Content = *patch.Content
	}
	if patch.ConversationID != nil {
		row.ConversationID = *patch.ConversationID
	}
	row.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetMemoryMetadataByID(ctx context.Context, memoryID string) (*MemoryMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[memoryID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryStore) DeleteMemoryMetadata(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, memoryID)
	return nil
}

func (s *MemoryStore) InsertSymptomTimelineEntries(ctx context.Context, userID, memoryID, sourceType string, symptoms []SymptomInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, buildEntries(userID, memoryID, sourceType, symptoms, s.now())...)
	return nil
}

func (s *MemoryStore) GetSymptomTimelineEntries(ctx context.Context, userID string) ([]*SymptomEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SymptomEntry
	for _, e := range s.timeline {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteSymptomTimelineByMemoryID(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTimelineLocked(memoryID)
	return nil
}

func (s *MemoryStore) deleteTimelineLocked(memoryID string) {
	kept := s.timeline[:0]
	for _, e := range s.timeline {
		if e.MemoryID != memoryID {
			kept = append(kept, e)
		}
	}
	s.timeline = kept
}

// RecordMemory 持有同一把锁完成两类写入
func (s *MemoryStore) RecordMemory(ctx context.Context, row *MemoryMetadata, symptoms []SymptomInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertLocked(row); err != nil {
		return err
	}
	s.timeline = append(s.timeline, buildEntries(row.UserID, row.MemoryID, row.Type, symptoms, s.now())...)
	return nil
}

func (s *MemoryStore) PurgeMemory(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTimelineLocked(memoryID)
	delete(s.rows, memoryID)
	return nil
}

// CountMetadata 元数据行数（测试与健康检查用）
func (s *MemoryStore) CountMetadata(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error {
	return nil
}
