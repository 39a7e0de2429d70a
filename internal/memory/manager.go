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
// Package memory 长期记忆上下文：经代理读写记忆服务，抽取症状并维护本地元数据与症状时间线
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"medqa-platform/internal/broker"
	"medqa-platform/internal/storage/cache"
	"medqa-platform/internal/storage/metadata"
	"medqa-platform/pkg/config"
	"medqa-platform/pkg/errors"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/metrics"
)

// Broker 记忆管理器依赖的代理能力
type Broker interface {
	Call(ctx context.Context, env broker.CallEnvelope) (*broker.ResultEnvelope, error)
	InvalidateUser(ctx context.Context, userID string) (int, error)
}

// CredentialResolver 调用方未提供凭证时按用户查找
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) string
}

// Option Manager 构造选项
type Option func(*Manager)

// WithTTL 检索缓存 TTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithCredentials 注入凭证解析
func WithCredentials(r CredentialResolver) Option {
	return func(m *Manager) { m.creds = r }
}

// WithLogger 注入日志
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = log.OrDiscard(l) }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager 记忆上下文管理器
type Manager struct {
	broker Broker
	repo   metadata.Store
	cache  *cache.Cache[RetrieveResult]
	ttl    time.Duration
	creds  CredentialResolver
	logger *log.Logger
	now    func() time.Time
}

// NewManager 创建 Manager；repo 为 nil 时使用内存存储
func NewManager(b Broker, repo metadata.Store, opts ...Option) *Manager {
	if repo == nil {
		repo = metadata.NewMemoryStore()
	}
	m := &Manager{
		broker: b,
		repo:   repo,
		ttl:    config.DefaultMemoryCacheTTL,
		logger: log.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.cache = cache.New[RetrieveResult](cache.WithClock(m.now))
	return m
}

func (m *Manager) credential(ctx context.Context, userID, credential string) string {
	if credential != "" || m.creds == nil {
		return credential
	}
	return m.creds.Resolve(ctx, userID)
}

func (m *Manager) call(ctx context.Context, method, userID, credential string, payload any) (*broker.ResultEnvelope, error) {
	res, err := m.broker.Call(ctx, broker.CallEnvelope{
		Service:    broker.ServiceMemory,
		Method:     method,
		Payload:    payload,
		UserID:     userID,
		Credential: m.credential(ctx, userID, credential),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.Wrap(res.Err(), method)
	}
	return res, nil
}

// Store 写入一条记忆并返回记忆 ID。
// 顺序：实体抽取 → 代理写入 → 本地元数据与时间线（同一事务）→ 清除该用户缓存。
// 代理写入成功但本地写入失败时返回 ID 与包装 errors.ErrPartialPersistence 的错误。
func (m *Manager) Store(ctx context.Context, params StoreParams, credential string) (string, error) {
	if params.UserID == "" {
		return "", errors.Invalidf("user id is required")
	}
	if !params.Type.Valid() {
		return "", errors.Invalidf("unknown memory type %q", params.Type)
	}

	content := params.Content
	if !params.SkipExtraction && strings.TrimSpace(content.OriginalText) != "" {
		extracted, err := m.ExtractEntities(ctx, content.OriginalText, params.UserID, credential)
		if err != nil {
			m.logger.Warn("medical entity extraction failed, storing without it", "user_id", params.UserID, "error", err)
		} else {
			content = mergeExtraction(content, extracted)
		}
	}

	now := m.now().UTC()
	payload := MemoryRecord{
		UserID:  params.UserID,
		Type:    params.Type,
		Content: content,
		Metadata: RecordMetadata{
			Source:         params.Source,
			ConversationID: params.ConversationID,
			CreatedAt:      &now,
		},
	}
	res, err := m.call(ctx, broker.MethodStoreMemory, params.UserID, credential, payload)
	if err != nil {
		return "", err
	}
	memoryID, err := decodeMemoryID(res.Data)
	if err != nil {
		return "", err
	}

	serialized, err := json.Marshal(content)
	if err != nil {
		return memoryID, err
	}
	row := &metadata.MemoryMetadata{
		UserID:         params.UserID,
		MemoryID:       memoryID,
		Type:           string(params.Type),
		Summary:        content.Summary,
		Content:        string(serialized),
		ConversationID: params.ConversationID,
		CreatedAt:      now,
	}
	persistErr := m.repo.RecordMemory(ctx, row, symptomInputs(content.ExtractedSymptoms))
	m.invalidate(ctx, params.UserID)
	if persistErr != nil {
		m.logger.Error("partial persistence: memory stored downstream but local metadata failed",
			"user_id", params.UserID, "memory_id", memoryID, "error", persistErr)
		return memoryID, fmt.Errorf("%w: %w", errors.ErrPartialPersistence, persistErr)
	}
	return memoryID, nil
}

// Retrieve 查询记忆；非空结果按 (用户, 参数哈希) 缓存，命中时 Total 与首次返回一致
func (m *Manager) Retrieve(ctx context.Context, params RetrieveParams, credential string) (*RetrieveResult, error) {
	if params.UserID == "" {
		return nil, errors.Invalidf("user id is required")
	}
	key, err := retrieveKey(params)
	if err != nil {
		return nil, err
	}

	page, hit := m.cache.Get(key)
	metrics.ObserveCache("memory", hit)
	if !hit {
		res, err := m.call(ctx, broker.MethodRetrieveMemories, params.UserID, credential, params)
		if err != nil {
			return nil, err
		}
		page.Records, page.Total, err = decodeRecords(res.Data)
		if err != nil {
			return nil, fmt.Errorf("decode memories: %w", err)
		}
		if len(page.Records) > 0 {
			m.cache.Set(key, RetrieveResult{Records: page.Records, Total: page.Total}, m.ttl)
		}
	}

	out := &RetrieveResult{Records: append([]MemoryRecord{}, page.Records...), Total: page.Total}
	if params.IncludeSummary {
		out.Summary = GenerateSummary(out.Records)
	}
	return out, nil
}

// Delete 删除记忆；仅当记忆服务确认删除后才清理本地元数据与时间线
func (m *Manager) Delete(ctx context.Context, memoryID, userID, credential string) (bool, error) {
	if memoryID == "" || userID == "" {
		return false, errors.Invalidf("memory id and user id are required")
	}
	res, err := m.call(ctx, broker.MethodDeleteMemory, userID, credential, map[string]string{
		"memoryId": memoryID,
		"userId":   userID,
	})
	if err != nil {
		return false, err
	}
	if !confirmed(res.Data) {
		m.logger.Warn("memory service did not confirm deletion", "user_id", userID, "memory_id", memoryID)
		return false, nil
	}

	purgeErr := m.repo.PurgeMemory(ctx, memoryID)
	m.invalidate(ctx, userID)
	if purgeErr != nil {
		m.logger.Error("partial persistence: memory deleted downstream but local purge failed",
			"user_id", userID, "memory_id", memoryID, "error", purgeErr)
		return true, fmt.Errorf("%w: %w", errors.ErrPartialPersistence, purgeErr)
	}
	return true, nil
}

// Update 只修改本地元数据，不改变记忆服务中的记录；记忆不属于 userID 时按不存在处理
func (m *Manager) Update(ctx context.Context, memoryID, userID string, params UpdateParams) (*metadata.MemoryMetadata, error) {
	if memoryID == "" || userID == "" {
		return nil, errors.Invalidf("memory id and user id are required")
	}
	row, err := m.repo.GetMemoryMetadataByID(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.UserID != userID {
		return nil, errors.Wrapf(errors.ErrNotFound, "memory %s", memoryID)
	}

	var patch metadata.MetadataPatch
	if params.Type != nil {
		if !params.Type.Valid() {
			return nil, errors.Invalidf("unknown memory type %q", *params.Type)
		}
		t := string(*params.Type)
		patch.Type = &t
	}
	patch.Summary = params.Summary
	if params.Content != nil {
		b, err := json.Marshal(params.Content)
		if err != nil {
			return nil, err
		}
		s := string(b)
		patch.Content = &s
	}
	if patch.Empty() {
		return row, nil
	}

	if err := m.repo.UpdateMemoryMetadata(ctx, memoryID, patch); err != nil {
		return nil, err
	}
	m.invalidate(ctx, row.UserID)
	return m.repo.GetMemoryMetadataByID(ctx, memoryID)
}

// ExtractEntities 调用记忆服务的医学实体抽取
func (m *Manager) ExtractEntities(ctx context.Context, text, userID, credential string) (*ExtractionResult, error) {
	res, err := m.call(ctx, broker.MethodExtractMedicalEntities, userID, credential, map[string]string{
		"text":   text,
		"userId": userID,
	})
	if err != nil {
		return nil, err
	}
	var raw struct {
		ExtractionResult
		ExtractedSymptoms []ExtractedSymptom `json:"extractedSymptoms"`
	}
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode extraction: %w", err)
		}
	}
	out := raw.ExtractionResult
	out.Symptoms = append(out.Symptoms, raw.ExtractedSymptoms...)
	return &out, nil
}

// Timeline 用户的症状时间线
func (m *Manager) Timeline(ctx context.Context, userID string) ([]*metadata.SymptomEntry, error) {
	if userID == "" {
		return nil, errors.Invalidf("user id is required")
	}
	return m.repo.GetSymptomTimelineEntries(ctx, userID)
}

// AnalyzeUserTrend 检索用户全部记忆并分析症状趋势
func (m *Manager) AnalyzeUserTrend(ctx context.Context, userID, credential string) (TrendReport, error) {
	res, err := m.Retrieve(ctx, RetrieveParams{UserID: userID}, credential)
	if err != nil {
		return TrendReport{}, err
	}
	return AnalyzeSymptomTrend(res.Records), nil
}

// invalidate 清除两层缓存中该用户的条目
func (m *Manager) invalidate(ctx context.Context, userID string) {
	m.cache.Invalidate(func(key string) bool {
		return strings.HasPrefix(key, "retrieve|"+url.PathEscape(userID)+"|")
	})
	if _, err := m.broker.InvalidateUser(ctx, userID); err != nil {
		m.logger.Warn("invalidate broker cache failed", "user_id", userID, "error", err)
	}
}

func retrieveKey(params RetrieveParams) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("retrieve|%s|%016x", url.PathEscape(params.UserID), xxhash.Sum64(b)), nil
}

// mergeExtraction 追加症状，合并关注点（去重、保持顺序），已有摘要优先
func mergeExtraction(content MemoryContent, ex *ExtractionResult) MemoryContent {
	content.ExtractedSymptoms = append(append([]ExtractedSymptom{}, content.ExtractedSymptoms...), ex.Symptoms...)

	seen := make(map[string]struct{}, len(content.Concerns))
	concerns := make([]string, 0, len(content.Concerns)+len(ex.Concerns))
	for _, c := range append(append([]string{}, content.Concerns...), ex.Concerns...) {
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		concerns = append(concerns, c)
	}
	content.Concerns = concerns

	if content.Summary == "" {
		content.Summary = ex.Summary
	}
	return content
}

func symptomInputs(symptoms []ExtractedSymptom) []metadata.SymptomInput {
	out := make([]metadata.SymptomInput, 0, len(symptoms))
	for _, s := range symptoms {
		out = append(out, metadata.SymptomInput{
			Description: s.Description,
			Severity:    s.Severity,
			OccurredAt:  s.OccurredAt,
			Confidence:  s.Confidence,
		})
	}
	return out
}

// decodeMemoryID 支持 "id"、{"id": ...}、{"memoryId": ...}
func decodeMemoryID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	var id string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", err
		}
	} else {
		var obj struct {
			ID       string `json:"id"`
			MemoryID string `json:"memoryId"`
		}
		if len(data) > 0 && data[0] == '{' {
			if err := json.Unmarshal(data, &obj); err != nil {
				return "", err
			}
		}
		id = obj.ID
		if id == "" {
			id = obj.MemoryID
		}
	}
	if id == "" {
		return "", fmt.Errorf("memory service returned no memory id")
	}
	return id, nil
}

// decodeRecords 支持数组或 {"memories": [...], "total": n}
func decodeRecords(data json.RawMessage) ([]MemoryRecord, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, 0, nil
	}
	if data[0] == '[' {
		var records []MemoryRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, 0, err
		}
		return records, len(records), nil
	}
	var page struct {
		Memories []MemoryRecord `json:"memories"`
		Total    int            `json:"total"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, 0, err
	}
	total := page.Total
	if total < len(page.Memories) {
		total = len(page.Memories)
	}
	return page.Memories, total, nil
}

// confirmed 删除确认：空结果、true，或对象中 deleted 为 true；缺少 deleted 时看 success
func confirmed(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("true")) {
		return true
	}
	var obj struct {
		Deleted *bool `json:"deleted"`
		Success *bool `json:"success"`
	}
	if data[0] != '{' || json.Unmarshal(data, &obj) != nil {
		return false
	}
	if obj.Deleted != nil {
		return *obj.Deleted
	}
	return obj.Success != nil && *obj.Success
}
