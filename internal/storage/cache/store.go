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
	"fmt"
	"time"

	"medqa-platform/pkg/config"
)

// Store 字节缓存接口，供代理响应缓存使用；可跨进程共享（redis）
type Store interface {
	// Get 返回值与是否命中；未命中不是错误
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set 写入值，ttl <= 0 时不缓存
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate 删除所有 match 为 true 的 key
	Invalidate(ctx context.Context, match func(key string) bool) (int, error)
	// Close 关闭缓存连接
	Close() error
}

// NewStore 根据配置创建缓存
func NewStore(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
