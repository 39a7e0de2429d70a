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

package cache

import (
	"context"
	"time"
)

// MemoryStore 进程内 Store 实现
type MemoryStore struct {
	c *Cache[[]byte]
}

// NewMemoryStore 创建新的内存缓存存储
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{c: New[[]byte](opts...)}
}

// Get 实现 Store
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set 实现 Store
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Invalidate 实现 Store
func (s *MemoryStore) Invalidate(ctx context.Context, match func(key string) bool) (int, error) {
	return s.c.Invalidate(match), nil
}

// Len 当前条目数
func (s *MemoryStore) Len() int {
	return s.c.Len()
}

// Close 实现 Store
func (s *MemoryStore) Close() error {
	return nil
}
