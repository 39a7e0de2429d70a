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
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"medqa-platform/internal/storage/cache"
	"medqa-platform/pkg/config"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/metrics"
	"medqa-platform/pkg/tracing"
)

const (
	cacheKeyPrefix = "broker"
	maxErrorBody   = 256
)

// Options 代理全局开关与缓存 TTL
type Options struct {
	Enabled         bool
	FallbackEnabled bool
	ClientID        string
	DefaultTimezone string
	TimeCacheTTL    time.Duration
	MemoryCacheTTL  time.Duration
}

// OptionsFromConfig 由配置生成 Options
func OptionsFromConfig(cfg config.BrokerConfig) Options {
	return Options{
		Enabled:         cfg.Enabled,
		FallbackEnabled: cfg.FallbackEnabled,
		ClientID:        cfg.ClientID,
		DefaultTimezone: cfg.DefaultTimezone,
		TimeCacheTTL:    cfg.TimeCacheTTL(),
		MemoryCacheTTL:  cfg.MemoryCacheTTL(),
	}
}

// Option 客户端构造选项
type Option func(*Client)

// WithHeaderBuilder 自定义认证头生成方式，默认 BearerHeaders
func WithHeaderBuilder(b HeaderBuilder) Option {
	return func(c *Client) {
		if b != nil {
			c.headers = b
		}
	}
}

// WithCache 使用外部缓存（如 redis），默认进程内缓存
func WithCache(s cache.Store) Option {
	return func(c *Client) {
		if s != nil {
			c.cache = s
		}
	}
}

// WithLogger 注入日志
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = log.OrDiscard(l)
	}
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type serviceClient struct {
	desc    ServiceDescriptor
	http    *resty.Client
	limiter *rate.Limiter
}

// Client 下游服务代理：超时、指数退避重试、响应缓存与降级
type Client struct {
	opts     Options
	services map[ServiceName]*serviceClient
	cache    cache.Store
	headers  HeaderBuilder
	logger   *log.Logger
	now      func() time.Time
}

// NewClient 创建代理客户端；每个服务一个 resty 客户端（共享连接池）
func NewClient(opts Options, descriptors map[ServiceName]ServiceDescriptor, options ...Option) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "medqa-broker-client"
	}
	c := &Client{
		opts:     opts,
		services: make(map[ServiceName]*serviceClient, len(descriptors)),
		headers:  BearerHeaders,
		logger:   log.Discard(),
		now:      time.Now,
	}
	for _, o := range options {
		o(c)
	}
	if c.cache == nil {
		c.cache = cache.NewMemoryStore(cache.WithClock(c.now))
	}
	for name, d := range descriptors {
		if d.Name == "" {
			d.Name = name
		}
		if d.Timeout <= 0 {
			d.Timeout = config.DefaultServiceTimeout
		}
		if d.MaxRetries < 0 {
			d.MaxRetries = 0
		}
		sc := &serviceClient{desc: d, http: resty.New().SetTimeout(d.Timeout)}
		if d.RateLimitRPS > 0 {
			burst := d.Burst
			if burst <= 0 {
				burst = 1
			}
			sc.limiter = rate.NewLimiter(rate.Limit(d.RateLimitRPS), burst)
		}
		c.services[name] = sc
	}
	return c
}

// Descriptor 返回服务描述
func (c *Client) Descriptor(service ServiceName) (ServiceDescriptor, bool) {
	sc, ok := c.services[service]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return sc.desc, true
}

// Call 发起一次逻辑调用。下游失败编码在返回的 ResultEnvelope 中；
// 仅当服务未配置时返回 ErrUnknownService。
func (c *Client) Call(ctx context.Context, env CallEnvelope) (*ResultEnvelope, error) {
	start := c.now()
	method := env.Method
	service := string(env.Service)

	if !c.opts.Enabled {
		metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeDisabled).Inc()
		return failureEnvelope(env.Service, &ServiceError{
			Kind:    KindServiceUnavailable,
			Service: env.Service,
			Message: ErrDisabled.Error(),
			Cause:   ErrDisabled,
		}, 0, start), nil
	}

	body, err := encodePayload(env.Payload)
	if err != nil {
		metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeFailure).Inc()
		return failureEnvelope(env.Service, &ServiceError{
			Kind:    KindInvalidRequest,
			Service: env.Service,
			Message: "encode payload: " + err.Error(),
			Cause:   err,
		}, 0, start), nil
	}

	ttl, cacheable := c.cacheTTL(env.Service, method)
	key := CacheKey(env.Service, method, env.UserID, body)
	if cacheable {
		cached, hit, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("broker cache get failed", "service", service, "method", method, "error", err)
		}
		metrics.ObserveCache("broker", hit)
		if hit {
			metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeCacheHit).Inc()
			return successEnvelope(env.Service, cached, 0, c.now()), nil
		}
	}

	sc, ok := c.services[env.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, env.Service)
	}

	ctx, span := tracing.StartBrokerSpan(ctx, service, method)
	data, attempts, lastErr := c.execute(ctx, sc, env, body)
	elapsed := c.now().Sub(start)
	metrics.BrokerCallDuration.WithLabelValues(service, method).Observe(elapsed.Seconds())

	if lastErr == nil {
		tracing.EndBrokerSpan(span, attempts, "", nil)
		if cacheable && !emptyResult(data) {
			if err := c.cache.Set(ctx, key, data, ttl); err != nil {
				c.logger.Warn("broker cache set failed", "service", service, "method", method, "error", err)
			}
		}
		metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeSuccess).Inc()
		return successEnvelope(env.Service, data, elapsed, c.now()), nil
	}

	serr := Classify(lastErr, env.Service)
	tracing.EndBrokerSpan(span, attempts, string(serr.Kind), serr)

	if c.opts.FallbackEnabled && sc.desc.Fallback && serr.IsRecoverable() {
		if fb, ok := c.fallback(env.Service, method); ok {
			c.logger.Warn("broker fallback triggered",
				"service", service, "method", method, "attempts", attempts,
				"kind", string(KindFallbackTriggered), "cause", string(serr.Kind), "error", serr.Message)
			metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeFallback).Inc()
			return successEnvelope(env.Service, fb, 0, c.now()), nil
		}
	}

	c.logger.Error("broker call failed",
		"service", service, "method", method, "attempts", attempts,
		"kind", string(serr.Kind), "error", serr.Message)
	metrics.BrokerCallsTotal.WithLabelValues(service, method, metrics.OutcomeFailure).Inc()
	return failureEnvelope(env.Service, serr, elapsed, c.now()), nil
}

// execute 带重试地执行请求，返回数据、实际尝试次数与最后一次失败
func (c *Client) execute(ctx context.Context, sc *serviceClient, env CallEnvelope, body []byte) ([]byte, int, error) {
	var (
		data     []byte
		attempts int
		lastErr  error
	)
	op := func() error {
		attempts++
		out, err := c.attempt(ctx, sc, env, body)
		if err != nil {
			lastErr = err
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		data, lastErr = out, nil
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.BrokerRetriesTotal.WithLabelValues(string(env.Service)).Inc()
		c.logger.Debug("broker retrying",
			"service", string(env.Service), "method", env.Method,
			"attempt", attempts, "wait", wait.String(), "error", err.Error())
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(sc.desc), uint64(sc.desc.MaxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil && lastErr == nil {
		lastErr = err
	}
	return data, attempts, lastErr
}

// attempt 单次 HTTP 请求，超时为服务配置的 timeout
func (c *Client) attempt(ctx context.Context, sc *serviceClient, env CallEnvelope, body []byte) ([]byte, error) {
	if sc.limiter != nil {
		if err := sc.limiter.Wait(ctx); err != nil {
			return nil, &ServiceError{Kind: KindTimeout, Service: env.Service, Message: "rate limiter: " + err.Error(), Cause: err}
		}
	}

	actx, cancel := context.WithTimeout(ctx, sc.desc.Timeout)
	defer cancel()

	resp, err := sc.http.R().
		SetContext(actx).
		SetHeaders(c.buildHeaders(env)).
		SetBody(body).
		Post(sc.desc.Endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= 400 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), maxErrorBody)}
	}

	data, err := unwrapResponse(env.Service, resp.Body())
	if err != nil {
		return nil, err
	}
	if env.Service == ServiceTime && env.Method == MethodGetCurrentTime {
		tv, err := NormalizeTime(data, c.opts.DefaultTimezone)
		if err != nil {
			return nil, &ServiceError{Kind: KindServiceUnavailable, Service: env.Service, Message: err.Error(), Cause: err}
		}
		return json.Marshal(tv)
	}
	return data, nil
}

// Health 调用下游 health 方法（不缓存、不降级）
func (c *Client) Health(ctx context.Context, service ServiceName) error {
	res, err := c.Call(ctx, CallEnvelope{Service: service, Method: MethodHealth})
	if err != nil {
		return err
	}
	return res.Err()
}

// InvalidateUser 删除代理缓存中属于 userID 的条目
func (c *Client) InvalidateUser(ctx context.Context, userID string) (int, error) {
	segment := url.PathEscape(userID)
	return c.cache.Invalidate(ctx, func(key string) bool {
		user, ok := userOfKey(key)
		return ok && user == segment
	})
}

// CacheKey 缓存 key：broker|service|method|user|hash(payload)，user 段经过转义，不会含有分隔符
func CacheKey(service ServiceName, method, userID string, payload []byte) string {
	return fmt.Sprintf("%s|%s|%s|%s|%016x", cacheKeyPrefix, service, method, url.PathEscape(userID), xxhash.Sum64(payload))
}

// userOfKey 返回 key 中转义后的 user 段
func userOfKey(key string) (string, bool) {
	parts := strings.Split(key, "|")
	if len(parts) != 5 || parts[0] != cacheKeyPrefix {
		return "", false
	}
	return parts[3], true
}

// newBackOff 无抖动的指数退避：retryDelay × 2^attempt
func newBackOff(d ServiceDescriptor) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.RetryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         d.Backoff(d.MaxRetries),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// encodePayload 序列化请求体；encoding/json 对 map key 排序，结果可作为缓存哈希输入
func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// downstreamEnvelope 下游的应用层包装 {success, data, error}
type downstreamEnvelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// emptyResult 空数组与 null 不进入缓存
func emptyResult(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("[]"))
}

// unwrapResponse 解开应用层包装；success=false 视为非法请求，缺少 data 时原样返回整个对象
func unwrapResponse(service ServiceName, body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(body) {
		return nil, &ServiceError{Kind: KindServiceUnavailable, Service: service, Message: "invalid JSON response"}
	}
	if body[0] != '{' {
		return body, nil
	}
	var env downstreamEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Success == nil {
		return body, nil
	}
	if !*env.Success {
		msg := firstNonEmpty(env.Error, env.Message, "downstream reported failure")
		return nil, &ServiceError{Kind: KindInvalidRequest, Service: service, Message: msg}
	}
	if len(env.Data) == 0 {
		return body, nil
	}
	return env.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
