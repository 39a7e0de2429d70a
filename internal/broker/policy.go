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
	"strings"
	"time"
)

// cacheTTL 可缓存的 (service, method) 及其 TTL
func (c *Client) cacheTTL(service ServiceName, method string) (time.Duration, bool) {
	switch {
	case service == ServiceTime && method == MethodGetCurrentTime:
		return c.opts.TimeCacheTTL, true
	case service == ServiceMemory && strings.HasPrefix(method, "retrieve"):
		return c.opts.MemoryCacheTTL, true
	default:
		return 0, false
	}
}

// fallback 固定的降级表；没有对应项时返回 false
func (c *Client) fallback(service ServiceName, method string) ([]byte, bool) {
	switch {
	case service == ServiceTime && method == MethodGetCurrentTime:
		data, err := json.Marshal(LocalTime(c.now(), c.opts.DefaultTimezone))
		if err != nil {
			return nil, false
		}
		return data, true
	case service == ServiceMemory && strings.HasPrefix(method, "retrieve"):
		return []byte("[]"), true
	default:
		return nil, false
	}
}
