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

package config

import (
	"fmt"
	"sort"
	"time"
)

// 代理默认值
const (
	DefaultServiceTimeout = 5 * time.Second
	DefaultMaxRetries     = 2
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultTimeCacheTTL   = 30 * time.Second
	DefaultMemoryCacheTTL = 5 * time.Minute
)

// knownServices 允许配置的下游服务名
var knownServices = map[string]struct{}{
	"time":   {},
	"memory": {},
}

// Validate 校验服务表：仅允许已知服务名，且 endpoint 必填
func (b BrokerConfig) Validate() error {
	names := make([]string, 0, len(b.Services))
	for name := range b.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := knownServices[name]; !ok {
			return fmt.Errorf("broker: unknown service %q", name)
		}
		if b.Services[name].Endpoint == "" {
			return fmt.Errorf("broker: service %q has no endpoint", name)
		}
	}
	return nil
}

// TimeCacheTTL 时间服务缓存 TTL
func (b BrokerConfig) TimeCacheTTL() time.Duration {
	return ParseDuration(b.Cache.TimeTTL, DefaultTimeCacheTTL)
}

// MemoryCacheTTL 记忆服务缓存 TTL
func (b BrokerConfig) MemoryCacheTTL() time.Duration {
	return ParseDuration(b.Cache.MemoryTTL, DefaultMemoryCacheTTL)
}

// TimeoutOrDefault 单次请求超时
func (s ServiceConfig) TimeoutOrDefault() time.Duration {
	d := ParseDuration(s.Timeout, DefaultServiceTimeout)
	if d == 0 {
		return DefaultServiceTimeout
	}
	return d
}

// RetriesOrDefault 最大重试次数（不含首次）
func (s ServiceConfig) RetriesOrDefault() int {
	if s.MaxRetries == nil || *s.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// RetryDelayOrDefault 退避基数
func (s ServiceConfig) RetryDelayOrDefault() time.Duration {
	return ParseDuration(s.RetryDelay, DefaultRetryDelay)
}

// FallbackOrDefault 是否允许降级
func (s ServiceConfig) FallbackOrDefault() bool {
	if s.Fallback == nil {
		return true
	}
	return *s.Fallback
}
