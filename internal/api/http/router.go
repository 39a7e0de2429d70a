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
package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"medqa-platform/internal/api/http/middleware"
)

// Router HTTP 路由配置
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
}

// NewRouter 创建新的路由
func NewRouter(handler *Handler, middleware *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: middleware,
	}
}

// Build 创建 Hertz 实例并注册路由，addr 如 ":8080"
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	h.Use(r.middleware.CORS(), r.middleware.AccessLog())
	r.SetupRoutes(h)
	return h
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes(h *server.Hertz) {
	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/context/time", r.handler.CurrentTime)

	memories := api.Group("/memories")
	{
		memories.POST("", r.handler.StoreMemory)
		memories.GET("", r.handler.RetrieveMemories)
		memories.GET("/trend", r.handler.SymptomTrend)
		memories.GET("/timeline", r.handler.SymptomTimeline)
		memories.PATCH("/:id", r.handler.UpdateMemory)
		memories.DELETE("/:id", r.handler.DeleteMemory)
	}
}
