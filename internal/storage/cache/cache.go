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
	"sync"
	"time"
)

// Option 缓存构造选项
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache 带过期时间的泛型 key→value 缓存。
// 无容量上限、无 LRU、无后台清理：过期项只在读取时被删除，或由 Invalidate 批量删除。
type Cache[T any] struct {
	mu    sync.Mutex
	items map[string]entry[T]
	now   func() time.Time
}

// New 创建空缓存
func New[T any](opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		items: make(map[string]entry[T]),
		now:   o.now,
	}
}

// Get 返回未过期的值；过期项在此处删除并视为未命中
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set 写入值，ttl <= 0 时不缓存
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[T]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete 删除单个 key
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Invalidate 删除所有 match 为 true 的 key，返回删除数量
func (c *Cache[T]) Invalidate(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.items {
		if match(key) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Len 当前保存的条目数（包含尚未被读取淘汰的过期项）
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
