// Copyright 2026 fanjia1024
// 下游调用凭证的存储抽象

package secrets

import (
	"context"
	"errors"
	"fmt"

	"medqa-platform/pkg/config"
)

// ErrNotFound secret 不存在
var ErrNotFound = errors.New("secret not found")

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值，不存在时返回包装 ErrNotFound 的错误
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出前缀下的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStore 根据配置创建 Secret Store
func NewStore(ctx context.Context, cfg config.SecretsConfig) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(), nil
	case "env":
		return NewEnvStore(), nil
	case "vault":
		return NewVaultStore(ctx, cfg.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}
