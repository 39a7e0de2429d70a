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

// 固定请求头
const (
	HeaderClientID = "X-Client-ID"
	HeaderMethod   = "X-Broker-Method"
	HeaderUserID   = "X-User-ID"
)

// HeaderBuilder 根据服务名与调用凭证生成认证相关请求头
type HeaderBuilder func(service ServiceName, credential string) map[string]string

// BearerHeaders 默认实现：凭证原样作为 Bearer token
func BearerHeaders(_ ServiceName, credential string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + credential}
}

func (c *Client) buildHeaders(env CallEnvelope) map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		HeaderClientID: c.opts.ClientID,
		HeaderMethod:   env.Method,
	}
	if env.UserID != "" {
		h[HeaderUserID] = env.UserID
	}
	if env.Credential != "" {
		for k, v := range c.headers(env.Service, env.Credential) {
			h[k] = v
		}
	}
	return h
}
