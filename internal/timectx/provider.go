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
// Package timectx 为调用方提供当前时间上下文，失败时静默降级为本地时钟
package timectx

import (
	"context"
	"time"

	"medqa-platform/internal/broker"
	"medqa-platform/internal/storage/cache"
	"medqa-platform/pkg/config"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/metrics"
)

// Caller 调用下游代理
type Caller interface {
	Call(ctx context.Context, env broker.CallEnvelope) (*broker.ResultEnvelope, error)
}

// CredentialResolver 按用户解析调用凭证，没有时返回空串
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) string
}

// Option Provider 构造选项
type Option func(*Provider)

// WithTTL 本层缓存 TTL
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithTimezone 本地降级使用的时区
func WithTimezone(tz string) Option {
	return func(p *Provider) {
		if tz != "" {
			p.timezone = tz
		}
	}
}

// WithCredentials 注入凭证解析
func WithCredentials(r CredentialResolver) Option {
	return func(p *Provider) { p.creds = r }
}

// WithLogger 注入日志
func WithLogger(l *log.Logger) Option {
	return func(p *Provider) { p.logger = log.OrDiscard(l) }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider 当前时间提供者：按调用方缓存，代理失败时返回本地时间
type Provider struct {
	caller   Caller
	cache    *cache.Cache[broker.TimeValue]
	ttl      time.Duration
	timezone string
	creds    CredentialResolver
	logger   *log.Logger
	now      func() time.Time
}

// NewProvider 创建 Provider
func NewProvider(caller Caller, opts ...Option) *Provider {
	p := &Provider{
		caller:   caller,
		ttl:      config.DefaultTimeCacheTTL,
		timezone: "UTC",
		logger:   log.Discard(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.cache = cache.New[broker.TimeValue](cache.WithClock(p.now))
	return p
}

// CurrentTime 返回当前时间，从不失败
func (p *Provider) CurrentTime(ctx context.Context, userID string) broker.TimeValue {
	key := cacheKey(userID)
	if tv, ok := p.cache.Get(key); ok {
		metrics.ObserveCache("time", true)
		return tv
	}
	metrics.ObserveCache("time", false)

	env := broker.CallEnvelope{
		Service: broker.ServiceTime,
		Method:  broker.MethodGetCurrentTime,
		Payload: map[string]string{"timezone": p.timezone},
		UserID:  userID,
	}
	if p.creds != nil && userID != "" {
		env.Credential = p.creds.Resolve(ctx, userID)
	}

	res, err := p.caller.Call(ctx, env)
	if err != nil {
		p.logger.Warn("time broker call error, using local time", "user_id", userID, "error", err)
		return p.local()
	}
	if !res.Success {
		p.logger.Warn("time service failed, using local time", "user_id", userID, "error", res.Error)
		return p.local()
	}

	var tv broker.TimeValue
	if err := res.Decode(&tv); err != nil || tv.CurrentTime == "" {
		p.logger.Warn("time service returned unusable data, using local time", "user_id", userID, "error", err)
		return p.local()
	}
	p.cache.Set(key, tv, p.ttl)
	return tv
}

// Invalidate 清除某个调用方的缓存
func (p *Provider) Invalidate(userID string) {
	p.cache.Delete(cacheKey(userID))
}

func (p *Provider) local() broker.TimeValue {
	return broker.LocalTime(p.now(), p.timezone)
}

func cacheKey(userID string) string {
	return "time|" + userID
}
