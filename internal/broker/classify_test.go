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
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func opError(errno syscall.Errno) error {
	return &url.Error{Op: "Post", URL: "http://svc", Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"401", &HTTPStatusError{StatusCode: 401}, KindAuthenticationFailed},
		{"403", &HTTPStatusError{StatusCode: 403}, KindAuthenticationFailed},
		{"400", &HTTPStatusError{StatusCode: 400}, KindInvalidRequest},
		{"429", &HTTPStatusError{StatusCode: 429}, KindRateLimited},
		{"500", &HTTPStatusError{StatusCode: 500}, KindServiceUnavailable},
		{"503", &HTTPStatusError{StatusCode: 503}, KindServiceUnavailable},
		{"404", &HTTPStatusError{StatusCode: 404}, KindServiceUnavailable},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"aborted", opError(syscall.ECONNABORTED), KindTimeout},
		{"refused", opError(syscall.ECONNREFUSED), KindServiceUnavailable},
		{"dns", &net.DNSError{Err: "no such host", Name: "svc", IsNotFound: true}, KindServiceUnavailable},
		{"unreachable", opError(syscall.ENETUNREACH), KindNetworkError},
		{"reset", opError(syscall.ECONNRESET), KindNetworkError},
		{"other", errors.New("boom"), KindServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := Classify(tc.err, ServiceMemory)
			assert.Equal(t, tc.want, se.Kind)
			assert.Equal(t, ServiceMemory, se.Service)
			assert.NotEmpty(t, se.Message)
			assert.ErrorIs(t, se, tc.err)
		})
	}
}

func TestClassify_KeepsServiceError(t *testing.T) {
	orig := &ServiceError{Kind: KindInvalidRequest, Service: ServiceTime, Message: "bad"}
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig), ServiceTime))
	assert.Nil(t, Classify(nil, ServiceTime))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"500", &HTTPStatusError{StatusCode: 500}, true},
		{"502", &HTTPStatusError{StatusCode: 502}, true},
		{"429", &HTTPStatusError{StatusCode: 429}, true},
		{"401", &HTTPStatusError{StatusCode: 401}, false},
		{"400", &HTTPStatusError{StatusCode: 400}, false},
		{"404", &HTTPStatusError{StatusCode: 404}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"aborted", opError(syscall.ECONNABORTED), true},
		{"refused", opError(syscall.ECONNREFUSED), true},
		{"unreachable", opError(syscall.ENETUNREACH), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "svc", IsNotFound: true}, false},
		{"reset", opError(syscall.ECONNRESET), false},
		{"classified", &ServiceError{Kind: KindTimeout}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := map[Kind]bool{
		KindServiceUnavailable:   true,
		KindTimeout:              true,
		KindNetworkError:         true,
		KindRateLimited:          true,
		KindAuthenticationFailed: false,
		KindInvalidRequest:       false,
		KindFallbackTriggered:    false,
	}
	for kind, want := range recoverable {
		se := &ServiceError{Kind: kind, Service: ServiceTime, Message: "x"}
		assert.Equal(t, want, se.IsRecoverable(), string(kind))
	}
}
