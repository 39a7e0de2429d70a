// Copyright 2026 fanjia1024

package secrets

import (
	"context"
	"errors"

	"medqa-platform/pkg/log"
)

// DefaultKeyPrefix 用户凭证 key 前缀
const DefaultKeyPrefix = "medqa/credentials/"

// CredentialResolver 按用户查找下游调用凭证，key 为 "<prefix><userID>"
type CredentialResolver struct {
	store  Store
	prefix string
	logger *log.Logger
}

// NewCredentialResolver 创建凭证解析器；prefix 为空时使用 DefaultKeyPrefix
func NewCredentialResolver(store Store, prefix string, logger *log.Logger) *CredentialResolver {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CredentialResolver{store: store, prefix: prefix, logger: log.OrDiscard(logger)}
}

// Key 用户凭证在 Store 中的 key
func (r *CredentialResolver) Key(userID string) string {
	return r.prefix + userID
}

// Resolve 返回用户凭证；不存在或读取失败时返回空串，调用将不带凭证
func (r *CredentialResolver) Resolve(ctx context.Context, userID string) string {
	if r == nil || r.store == nil || userID == "" {
		return ""
	}
	value, err := r.store.Get(ctx, r.Key(userID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("resolve credential failed", "user_id", userID, "error", err)
		}
		return ""
	}
	return value
}
