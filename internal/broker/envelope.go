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
	"encoding/json"
	"time"
)

// CallEnvelope 一次逻辑调用
type CallEnvelope struct {
	Service    ServiceName
	Method     string
	Payload    any
	UserID     string
	Credential string
}

// ResultMetadata 调用元信息；缓存命中与降级时 Elapsed 为 0
type ResultMetadata struct {
	Elapsed   time.Duration `json:"elapsed"`
	Service   ServiceName   `json:"service"`
	Timestamp time.Time     `json:"timestamp"`
}

// ResultEnvelope 统一的调用结果
type ResultEnvelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata ResultMetadata  `json:"metadata"`

	err *ServiceError
}

// Err 失败时返回已分类的 *ServiceError，成功时返回 nil
func (r *ResultEnvelope) Err() error {
	if r == nil || r.err == nil {
		return nil
	}
	return r.err
}

// Decode 将 Data 解码到 v；失败的结果直接返回其错误
func (r *ResultEnvelope) Decode(v any) error {
	if !r.Success {
		return r.Err()
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

func successEnvelope(service ServiceName, data []byte, elapsed time.Duration, now time.Time) *ResultEnvelope {
	return &ResultEnvelope{
		Success:  true,
		Data:     json.RawMessage(data),
		Metadata: ResultMetadata{Elapsed: elapsed, Service: service, Timestamp: now},
	}
}

func failureEnvelope(service ServiceName, err *ServiceError, elapsed time.Duration, now time.Time) *ResultEnvelope {
	msg := err.Error()
	if msg == "" {
		msg = string(err.Kind)
	}
	return &ResultEnvelope{
		Success:  false,
		Error:    msg,
		Metadata: ResultMetadata{Elapsed: elapsed, Service: service, Timestamp: now},
		err:      err,
	}
}
