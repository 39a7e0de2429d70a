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
	"errors"
	"fmt"
)

// Kind 下游调用失败的分类
type Kind string

const (
	KindServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindTimeout              Kind = "TIMEOUT"
	KindNetworkError         Kind = "NETWORK_ERROR"
	KindFallbackTriggered    Kind = "FALLBACK_TRIGGERED"
)

// Recoverable 可触发降级的类别
func (k Kind) Recoverable() bool {
	switch k {
	case KindServiceUnavailable, KindTimeout, KindNetworkError, KindRateLimited:
		return true
	default:
		return false
	}
}

var (
	// ErrUnknownService 未配置的服务名，属于调用方或配置错误
	ErrUnknownService = errors.New("broker: unknown service")
	// ErrDisabled 代理被全局关闭
	ErrDisabled = errors.New("broker disabled")
)

// ServiceError 已分类的下游错误
type ServiceError struct {
	Kind       Kind
	Service    ServiceName
	Message    string
	StatusCode int // HTTP 状态码，非 HTTP 失败时为 0
	Cause      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %s", e.Service, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRecoverable 是否允许降级
func (e *ServiceError) IsRecoverable() bool {
	return e.Kind.Recoverable()
}

// KindOf 取 err 链中的 ServiceError 类别，没有时返回空
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// HTTPStatusError 下游返回了失败状态码（>= 400）
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
