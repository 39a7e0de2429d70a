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
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"medqa-platform/internal/memory"
	apperrors "medqa-platform/pkg/errors"
)

// StoreMemory 写入记忆
// POST /api/memories
func (h *Handler) StoreMemory(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	var params memory.StoreParams
	if err := json.Unmarshal(c.Request.Body(), &params); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body: " + err.Error()})
		return
	}
	params.UserID = user

	id, err := h.memories.Store(ctx, params, bearer(c))
	if err != nil && !errors.Is(err, apperrors.ErrPartialPersistence) {
		h.writeError(c, "store memory", err)
		return
	}
	body := utils.H{"id": id}
	if err != nil {
		// 下游已写入，本地元数据缺失
		h.logger.Warn("memory stored with partial persistence", "user_id", user, "memory_id", id, "error", err)
		body["warning"] = err.Error()
	}
	c.JSON(consts.StatusCreated, body)
}

// RetrieveMemories 查询记忆
// GET /api/memories?type=symptom,conversation&query=&since=&until=&limit=&summary=true
func (h *Handler) RetrieveMemories(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	params, err := retrieveParams(c)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	params.UserID = user

	res, err := h.memories.Retrieve(ctx, params, bearer(c))
	if err != nil {
		h.writeError(c, "retrieve memories", err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

func retrieveParams(c *app.RequestContext) (memory.RetrieveParams, error) {
	var p memory.RetrieveParams
	for _, t := range strings.Split(c.Query("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			p.Types = append(p.Types, memory.MemoryType(t))
		}
	}
	p.Query = c.Query("query")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, apperrors.Invalidf("invalid limit %q", v)
		}
		p.Limit = n
	}
	var err error
	if p.Since, err = queryTime(c, "since"); err != nil {
		return p, err
	}
	if p.Until, err = queryTime(c, "until"); err != nil {
		return p, err
	}
	p.IncludeSummary, _ = strconv.ParseBool(c.Query("summary"))
	return p, nil
}

func queryTime(c *app.RequestContext, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperrors.Invalidf("invalid %s %q, want RFC3339", key, v)
	}
	return &t, nil
}

// DeleteMemory 删除记忆
// DELETE /api/memories/:id
func (h *Handler) DeleteMemory(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	deleted, err := h.memories.Delete(ctx, id, user, bearer(c))
	if err != nil && !errors.Is(err, apperrors.ErrPartialPersistence) {
		h.writeError(c, "delete memory", err)
		return
	}
	body := utils.H{"id": id, "deleted": deleted}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(consts.StatusOK, body)
}

// UpdateMemory 修改本地记忆元数据
// PATCH /api/memories/:id
func (h *Handler) UpdateMemory(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	var params memory.UpdateParams
	if err := json.Unmarshal(c.Request.Body(), &params); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body: " + err.Error()})
		return
	}
	row, err := h.memories.Update(ctx, c.Param("id"), user, params)
	if err != nil {
		h.writeError(c, "update memory", err)
		return
	}
	c.JSON(consts.StatusOK, row)
}

// SymptomTrend 症状趋势
// GET /api/memories/trend
func (h *Handler) SymptomTrend(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	report, err := h.memories.AnalyzeUserTrend(ctx, user, bearer(c))
	if err != nil {
		h.writeError(c, "analyze trend", err)
		return
	}
	c.JSON(consts.StatusOK, report)
}

// SymptomTimeline 症状时间线
// GET /api/memories/timeline
func (h *Handler) SymptomTimeline(ctx context.Context, c *app.RequestContext) {
	user, ok := h.requireUser(c)
	if !ok {
		return
	}
	entries, err := h.memories.Timeline(ctx, user)
	if err != nil {
		h.writeError(c, "symptom timeline", err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"entries": entries, "total": len(entries)})
}
