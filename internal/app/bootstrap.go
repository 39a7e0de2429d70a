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
package app

import (
	"context"
	"fmt"
	"sort"

	"medqa-platform/internal/broker"
	"medqa-platform/internal/memory"
	"medqa-platform/internal/storage/cache"
	"medqa-platform/internal/storage/metadata"
	"medqa-platform/internal/timectx"
	"medqa-platform/pkg/config"
	"medqa-platform/pkg/errors"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/secrets"
)

// Bootstrap 统一初始化：日志、缓存、元数据存储、凭证、代理与两个上下文组件
type Bootstrap struct {
	Config        *config.Config
	Logger        *log.Logger
	Cache         cache.Store
	MetadataStore metadata.Store
	Secrets       secrets.Store
	Broker        *broker.Client
	Time          *timectx.Provider
	Memory        *memory.Manager
}

// NewBootstrap 根据配置创建 Bootstrap；失败时关闭已创建的资源
func NewBootstrap(ctx context.Context, cfg *config.Config) (_ *Bootstrap, err error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if b.Cache, err = cache.NewStore(ctx, cfg.Storage.Cache); err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	if b.MetadataStore, err = metadata.NewStore(ctx, cfg.Storage.Metadata); err != nil {
		return nil, fmt.Errorf("初始化元数据存储失败: %w", err)
	}
	if b.Secrets, err = secrets.NewStore(ctx, cfg.Secrets); err != nil {
		return nil, fmt.Errorf("初始化凭证存储失败: %w", err)
	}
	creds := secrets.NewCredentialResolver(b.Secrets, cfg.Secrets.KeyPrefix, logger.With("component", "secrets"))

	descriptors := broker.DescriptorsFromConfig(cfg.Broker)
	logWorstCase(logger, descriptors)
	b.Broker = broker.NewClient(broker.OptionsFromConfig(cfg.Broker), descriptors,
		broker.WithCache(b.Cache),
		broker.WithLogger(logger.With("component", "broker")),
	)

	tz := cfg.Broker.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	b.Time = timectx.NewProvider(b.Broker,
		timectx.WithTTL(cfg.Broker.TimeCacheTTL()),
		timectx.WithTimezone(tz),
		timectx.WithCredentials(creds),
		timectx.WithLogger(logger.With("component", "timectx")),
	)
	b.Memory = memory.NewManager(b.Broker, b.MetadataStore,
		memory.WithTTL(cfg.Broker.MemoryCacheTTL()),
		memory.WithCredentials(creds),
		memory.WithLogger(logger.With("component", "memory")),
	)
	return b, nil
}

// logWorstCase 记录每个服务一次逻辑调用的最坏耗时
func logWorstCase(logger *log.Logger, descriptors map[broker.ServiceName]broker.ServiceDescriptor) {
	names := make([]string, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		d := descriptors[broker.ServiceName(name)]
		logger.Info("broker service configured",
			"service", name,
			"endpoint", d.Endpoint,
			"timeout", d.Timeout.String(),
			"max_retries", d.MaxRetries,
			"worst_case", d.WorstCase().String(),
		)
	}
}

// Close 关闭存储与日志
func (b *Bootstrap) Close() error {
	var errs []error
	if b.MetadataStore != nil {
		errs = append(errs, b.MetadataStore.Close())
	}
	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
	}
	if b.Logger != nil {
		errs = append(errs, b.Logger.Close())
	}
	return errors.Join(errs...)
}
