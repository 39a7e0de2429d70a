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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"medqa-platform/pkg/config"
)

const (
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "medqa:"
	scanBatch          = 200
	deleteBatch        = 100
)

// RedisStore 基于 Redis 的 Store；过期由 Redis 原生 TTL 负责
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 Redis 并校验可用性
func NewRedisStore(ctx context.Context, cfg config.CacheConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultRedisAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Get 实现 Store
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set 实现 Store
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Invalidate 通过 SCAN 遍历前缀下的 key，按 match 过滤后分批 DEL
func (s *RedisStore) Invalidate(ctx context.Context, match func(key string) bool) (int, error) {
	var pending []string
	n := 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		deleted, err := s.client.Del(ctx, pending...).Result()
		if err != nil {
			return err
		}
		n += int(deleted)
		pending = pending[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		if !match(strings.TrimPrefix(full, s.prefix)) {
			continue
		}
		pending = append(pending, full)
		if len(pending) >= deleteBatch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	if err := flush(); err != nil {
		return n, err
	}
	return n, nil
}

// Close 实现 Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
