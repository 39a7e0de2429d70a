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
	"time"

	"medqa-platform/pkg/config"
)

// ServiceName 下游服务名
type ServiceName string

const (
	ServiceTime   ServiceName = "time"
	ServiceMemory ServiceName = "memory"
)

// 逻辑方法名，通过请求头传给下游，不体现在 URL 中
const (
	MethodGetCurrentTime         = "getCurrentTime"
	MethodStoreMemory            = "storeMemory"
	MethodRetrieveMemories       = "retrieveMemories"
	MethodUpdateMemory           = "updateMemory"
	MethodDeleteMemory           = "deleteMemory"
	MethodExtractMedicalEntities = "extractMedicalEntities"
	MethodHealth                 = "health"
)

// ServiceDescriptor 单个下游服务的调用参数，加载后不再修改
type ServiceDescriptor struct {
	Name         ServiceName
	Endpoint     string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	Fallback     bool
	RateLimitRPS float64
	Burst        int
}

// Backoff 第 attempt 次重试前的等待（attempt 从 0 开始）
func (d ServiceDescriptor) Backoff(attempt int) time.Duration {
	return d.RetryDelay << uint(attempt)
}

// WorstCase 一次逻辑调用的最长耗时：timeout×(maxRetries+1) 加上全部退避
func (d ServiceDescriptor) WorstCase() time.Duration {
	total := d.Timeout * time.Duration(d.MaxRetries+1)
	for i := 0; i < d.MaxRetries; i++ {
		total += d.Backoff(i)
	}
	return total
}

// DescriptorsFromConfig 由配置生成服务表并补全默认值
func DescriptorsFromConfig(cfg config.BrokerConfig) map[ServiceName]ServiceDescriptor {
	out := make(map[ServiceName]ServiceDescriptor, len(cfg.Services))
	for name, svc := range cfg.Services {
		out[ServiceName(name)] = ServiceDescriptor{
			Name:         ServiceName(name),
			Endpoint:     svc.Endpoint,
			Timeout:      svc.TimeoutOrDefault(),
			MaxRetries:   svc.RetriesOrDefault(),
			RetryDelay:   svc.RetryDelayOrDefault(),
			Fallback:     svc.FallbackOrDefault(),
			RateLimitRPS: svc.RateLimitRPS,
			Burst:        svc.Burst,
		}
	}
	return out
}
