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
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"medqa-platform/internal/broker"
	"medqa-platform/internal/memory"
	"medqa-platform/internal/storage/metadata"
	apperrors "medqa-platform/pkg/errors"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/metrics"
)

// TimeSource 当前时间上下文
type TimeSource interface {
	CurrentTime(ctx context.Context, userID string) broker.TimeValue
}

// MemoryService 记忆上下文操作
type MemoryService interface {
	Store(ctx context.Context, params memory.StoreParams, credential string) (string, error)
	Retrieve(ctx context.Context, params memory.RetrieveParams, credential string) (*memory.RetrieveResult, error)
	Delete(ctx context.Context, memoryID, userID, credential string) (bool, error)
	Update(ctx context.Context, memoryID, userID string, params memory.UpdateParams) (*metadata.MemoryMetadata, error)
	Timeline(ctx context.Context, userID string) ([]*metadata.SymptomEntry, error)
	AnalyzeUserTrend(ctx context.Context, userID, credential string) (memory.TrendReport, error)
}

// HealthChecker 下游服务健康检查
type HealthChecker interface {
	Health(ctx context.Context, service broker.ServiceName) error
}

// Handler HTTP 处理器
type Handler struct {
	time     TimeSource
	memories MemoryService
	health   HealthChecker
	services []broker.ServiceName
	logger   *log.Logger
	now      func() time.Time
}

// NewHandler 创建新的处理器
func NewHandler(ts TimeSource, memories MemoryService) *Handler {
	return &Handler{
		time:     ts,
		memories: memories,
		logger:   log.Discard(),
		now:      time.Now,
	}
}

// SetHealthChecker 设置下游健康检查及需要检查的服务
func (h *Handler) SetHealthChecker(hc HealthChecker, services ...broker.ServiceName) {
	h.health = hc
	h.services = services
}

// SetLogger 设置日志
func (h *Handler) SetLogger(l *log.Logger) {
	h.logger = log.OrDiscard(l)
}

// HealthCheck 健康检查；下游不可用时 status 为 degraded，HTTP 状态仍为 200
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	status := "ok"
	services := make(map[string]string, len(h.services))
	if h.health != nil {
		for _, svc := range h.services {
			if err := h.health.Health(ctx, svc); err != nil {
				services[string(svc)] = err.Error()
				status = "degraded"
				continue
			}
			services[string(svc)] = "ok"
		}
	}
	c.JSON(consts.StatusOK, utils.H{
		"status":    status,
		"timestamp": h.now().Unix(),
		"service":   "medqa-api",
		"services":  services,
	})
}

// Metrics Prometheus 文本格式指标
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.logger.Error("write metrics failed", "error", err)
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// CurrentTime 当前时间上下文（服务不可用时为本地时间）
// GET /api/context/time
func (h *Handler) CurrentTime(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.time.CurrentTime(ctx, userID(c)))
}

// userID 调用方标识，来自 X-User-ID
func userID(c *app.RequestContext) string {
	return strings.TrimSpace(string(c.GetHeader(broker.HeaderUserID)))
}

// bearer Authorization 中的凭证，原样透传给下游
func bearer(c *app.RequestContext) string {
	auth := strings.TrimSpace(string(c.GetHeader("Authorization")))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (h *Handler) requireUser(c *app.RequestContext) (string, bool) {
	id := userID(c)
	if id == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": broker.HeaderUserID + " header is required"})
		return "", false
	}
	return id, true
}

// writeError 按错误类型映射 HTTP 状态码
func (h *Handler) writeError(c *app.RequestContext, op string, err error) {
	code := statusOf(err)
	if code >= consts.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err)
	}
	body := utils.H{"error": err.Error()}
	if kind := broker.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	c.JSON(code, body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArg):
		return consts.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return consts.StatusNotFound
	}
	switch broker.KindOf(err) {
	case broker.KindAuthenticationFailed:
		return consts.StatusUnauthorized
	case broker.KindInvalidRequest:
		return consts.StatusBadRequest
	case broker.KindRateLimited:
		return consts.StatusTooManyRequests
	case broker.KindTimeout:
		return consts.StatusGatewayTimeout
	case broker.KindServiceUnavailable, broker.KindNetworkError:
		return consts.StatusServiceUnavailable
	}
	return consts.StatusInternalServerError
}
