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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Classify 将原始失败归入错误类别，按以下优先级判断：
// 401/403 → 认证失败；400 → 非法请求；429 → 限流；超时/中断 → 超时；
// 连接拒绝/域名解析失败 → 服务不可用；网络不可达/连接重置 → 网络错误；其余（含 5xx）→ 服务不可用。
func Classify(err error, service ServiceName) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newStatusError(KindAuthenticationFailed, service, "authentication failed", statusErr)
		case http.StatusBadRequest:
			return newStatusError(KindInvalidRequest, service, "invalid request", statusErr)
		case http.StatusTooManyRequests:
			return newStatusError(KindRateLimited, service, "rate limited", statusErr)
		default:
			return newStatusError(KindServiceUnavailable, service, "service unavailable", statusErr)
		}
	}

	switch {
	case isTimeout(err):
		return &ServiceError{Kind: KindTimeout, Service: service, Message: "request timed out: " + err.Error(), Cause: err}
	case isRefused(err):
		return &ServiceError{Kind: KindServiceUnavailable, Service: service, Message: "service unreachable: " + err.Error(), Cause: err}
	case isNetwork(err):
		return &ServiceError{Kind: KindNetworkError, Service: service, Message: "network error: " + err.Error(), Cause: err}
	default:
		return &ServiceError{Kind: KindServiceUnavailable, Service: service, Message: "service unavailable: " + err.Error(), Cause: err}
	}
}

func newStatusError(kind Kind, service ServiceName, msg string, cause *HTTPStatusError) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Service:    service,
		Message:    fmt.Sprintf("%s (%s)", msg, cause.Error()),
		StatusCode: cause.StatusCode,
		Cause:      cause,
	}
}

// Retryable 是否值得再试一次：超时/中断、连接拒绝、网络不可达、HTTP 5xx 与 429。
// 与 Classify 独立：域名解析失败、连接重置虽然可降级，但不重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	return isTimeout(err) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isNetwork(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
