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
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medqa-platform/internal/broker"
	"medqa-platform/internal/storage/metadata"
	"medqa-platform/pkg/errors"
)

// fakeMemoryService 按 X-Broker-Method 分发，记录每个方法的调用次数与请求体
type fakeMemoryService struct {
	mu       sync.Mutex
	hits     map[string]int
	bodies   map[string][]string
	handlers map[string]func(w http.ResponseWriter)
}

func newFakeMemoryService(t *testing.T) (*fakeMemoryService, *httptest.Server) {
	t.Helper()
	f := &fakeMemoryService{
		hits:   map[string]int{},
		bodies: map[string][]string{},
		handlers: map[string]func(w http.ResponseWriter){
			broker.MethodExtractMedicalEntities: jsonBody(`{"symptoms":[{"description":"headache","severity":7,"timeContext":"3 days","confidence":0.9}],"concerns":["duration"],"summary":"Severe headache lasting 3 days"}`),
			broker.MethodStoreMemory:            jsonBody(`{"success":true,"data":{"id":"mem-1"}}`),
			broker.MethodRetrieveMemories:       jsonBody(`[{"id":"mem-1","userId":"u1","type":"symptom","content":{"originalText":"severe headache","extractedSymptoms":[{"description":"headache","severity":7,"confidence":0.9}]}}]`),
			broker.MethodDeleteMemory:           jsonBody(`{"deleted":true}`),
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Header.Get(broker.HeaderMethod)
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.hits[method]++
		f.bodies[method] = append(f.bodies[method], string(body))
		h, ok := f.handlers[method]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMemoryService) set(method string, h func(w http.ResponseWriter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeMemoryService) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method]
}

func (f *fakeMemoryService) lastBody(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[method]
	return b[len(b)-1]
}

func jsonBody(body string) func(w http.ResponseWriter) {
	return statusBody(http.StatusOK, body)
}

func statusBody(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func newBroker(url string) *broker.Client {
	return broker.NewClient(broker.Options{
		Enabled:         true,
		FallbackEnabled: true,
		MemoryCacheTTL:  5 * time.Minute,
	}, map[broker.ServiceName]broker.ServiceDescriptor{
		broker.ServiceMemory: {
			Name:       broker.ServiceMemory,
			Endpoint:   url,
			Timeout:    time.Second,
			MaxRetries: 0,
			RetryDelay: time.Millisecond,
			Fallback:   true,
		},
	})
}

func newTestManager(t *testing.T) (*Manager, *fakeMemoryService, *metadata.MemoryStore) {
	t.Helper()
	f, srv := newFakeMemoryService(t)
	repo := metadata.NewMemoryStore()
	return NewManager(newBroker(srv.URL), repo), f, repo
}

func TestStore_ExtractsAndPersists(t *testing.T) {
	ctx := context.Background()
	m, f, repo := newTestManager(t)

	// 预热检索缓存
	_, err := m.Retrieve(ctx, RetrieveParams{UserID: "u1", Limit: 5}, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.count(broker.MethodRetrieveMemories))

	id, err := m.Store(ctx, StoreParams{
		UserID:  "u1",
		Type:    TypeSymptom,
		Content: MemoryContent{OriginalText: "severe headache for 3 days"},
	}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)

	assert.Equal(t, 1, f.count(broker.MethodExtractMedicalEntities))
	assert.Equal(t, 1, repo.CountMetadata("u1"))

	row, err := repo.GetMemoryMetadataByID(ctx, "mem-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "symptom", row.Type)
	assert.Equal(t, "Severe headache lasting 3 days", row.Summary)

	entries, err := repo.GetSymptomTimelineEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "headache", entries[0].Description)
	assert.Equal(t, 7, entries[0].Severity)
	assert.Equal(t, "mem-1", entries[0].MemoryID)

	// 写入下游的内容包含抽取结果
	var sent MemoryRecord
	require.NoError(t, json.Unmarshal([]byte(f.lastBody(broker.MethodStoreMemory)), &sent))
	require.Len(t, sent.Content.ExtractedSymptoms, 1)
	assert.Equal(t, []string{"duration"}, sent.Content.Concerns)

	// 两层缓存都已清空
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1", Limit: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestStore_SkipExtraction(t *testing.T) {
	m, f, repo := newTestManager(t)
	_, err := m.Store(context.Background(), StoreParams{
		UserID:         "u1",
		Type:           TypeConversation,
		Content:        MemoryContent{OriginalText: "hello"},
		SkipExtraction: true,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, f.count(broker.MethodExtractMedicalEntities))
	entries, err := repo.GetSymptomTimelineEntries(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_ExtractionFailureTolerated(t *testing.T) {
	m, f, repo := newTestManager(t)
	f.set(broker.MethodExtractMedicalEntities, statusBody(http.StatusInternalServerError, ""))

	id, err := m.Store(context.Background(), StoreParams{
		UserID:  "u1",
		Type:    TypeSymptom,
		Content: MemoryContent{OriginalText: "cough", Summary: "cough at night"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)
	assert.Equal(t, 1, repo.CountMetadata("u1"))

	row, _ := repo.GetMemoryMetadataByID(context.Background(), id)
	assert.Equal(t, "cough at night", row.Summary)
}

func TestStore_MergeKeepsExistingSummary(t *testing.T) {
	m, f, _ := newTestManager(t)
	_, err := m.Store(context.Background(), StoreParams{
		UserID: "u1",
		Type:   TypeSymptom,
		Content: MemoryContent{
			OriginalText:      "headache again",
			ExtractedSymptoms: []ExtractedSymptom{{Description: "nausea", Severity: 3}},
			Concerns:          []string{"duration", "sleep"},
			Summary:           "mine",
		},
	}, "")
	require.NoError(t, err)

	var sent MemoryRecord
	require.NoError(t, json.Unmarshal([]byte(f.lastBody(broker.MethodStoreMemory)), &sent))
	assert.Equal(t, "mine", sent.Content.Summary)
	assert.Equal(t, []string{"duration", "sleep"}, sent.Content.Concerns)
	require.Len(t, sent.Content.ExtractedSymptoms, 2)
	assert.Equal(t, "nausea", sent.Content.ExtractedSymptoms[0].Description)
	assert.Equal(t, "headache", sent.Content.ExtractedSymptoms[1].Description)
}

func TestStore_DownstreamFailurePropagates(t *testing.T) {
	m, f, repo := newTestManager(t)
	f.set(broker.MethodStoreMemory, statusBody(http.StatusBadRequest, `{"error":"bad type"}`))

	_, err := m.Store(context.Background(), StoreParams{UserID: "u1", Type: TypeSymptom, SkipExtraction: true}, "")
	require.Error(t, err)
	assert.Equal(t, broker.KindInvalidRequest, broker.KindOf(err))
	assert.Equal(t, 0, repo.CountMetadata("u1"))
}

func TestStore_MissingID(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.set(broker.MethodStoreMemory, jsonBody(`{"ok":true}`))
	_, err := m.Store(context.Background(), StoreParams{UserID: "u1", Type: TypeSymptom, SkipExtraction: true}, "")
	assert.Error(t, err)
}

type failingRepo struct {
	metadata.Store
}

func (failingRepo) RecordMemory(context.Context, *metadata.MemoryMetadata, []metadata.SymptomInput) error {
	return fmt.Errorf("disk full")
}

func TestStore_PartialPersistence(t *testing.T) {
	f, srv := newFakeMemoryService(t)
	m := NewManager(newBroker(srv.URL), failingRepo{metadata.NewMemoryStore()})
	ctx := context.Background()

	_, err := m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)

	id, err := m.Store(ctx, StoreParams{UserID: "u1", Type: TypeSymptom, SkipExtraction: true}, "")
	assert.Equal(t, "mem-1", id)
	assert.ErrorIs(t, err, errors.ErrPartialPersistence)

	// 即使本地写入失败也清空缓存
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestStore_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Store(context.Background(), StoreParams{Type: TypeSymptom}, "")
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
	_, err = m.Store(context.Background(), StoreParams{UserID: "u1", Type: "diary"}, "")
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
}

func TestRetrieve_CachedWithinTTL(t *testing.T) {
	m, f, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Retrieve(ctx, RetrieveParams{UserID: "u1", Limit: 5}, "")
	require.NoError(t, err)
	second, err := m.Retrieve(ctx, RetrieveParams{UserID: "u1", Limit: 5, IncludeSummary: true}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, f.count(broker.MethodRetrieveMemories))
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, 1, second.Total)
	assert.Empty(t, first.Summary)
	assert.Equal(t, "Found 1 relevant memory (symptom: 1). Reported symptoms: headache.", second.Summary)

	// 参数不同则重新请求
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1", Limit: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestRetrieve_CacheExpires(t *testing.T) {
	f, srv := newFakeMemoryService(t)
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	b := broker.NewClient(broker.Options{Enabled: true, FallbackEnabled: true, MemoryCacheTTL: time.Minute},
		map[broker.ServiceName]broker.ServiceDescriptor{
			broker.ServiceMemory: {Name: broker.ServiceMemory, Endpoint: srv.URL, Timeout: time.Second},
		}, broker.WithClock(clock))
	m := NewManager(b, nil, WithTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	_, err := m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestRetrieve_EmptyNotCached(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.set(broker.MethodRetrieveMemories, jsonBody(`[]`))
	for i := 0; i < 2; i++ {
		res, err := m.Retrieve(context.Background(), RetrieveParams{UserID: "u1"}, "")
		require.NoError(t, err)
		assert.Empty(t, res.Records)
		assert.NotNil(t, res.Records)
	}
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestRetrieve_PageShape(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.set(broker.MethodRetrieveMemories, jsonBody(`{"success":true,"data":{"memories":[{"id":"a","userId":"u1","type":"conversation","content":{"originalText":"hi"}}],"total":7}}`))
	res, err := m.Retrieve(context.Background(), RetrieveParams{UserID: "u1", Limit: 1}, "")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a", res.Records[0].ID)
	assert.Equal(t, 7, res.Total)
}

func TestRetrieve_CachedPageKeepsTotal(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.set(broker.MethodRetrieveMemories, jsonBody(`{"memories":[{"id":"a","userId":"u1","type":"conversation","content":{"originalText":"hi"}}],"total":42}`))
	params := RetrieveParams{UserID: "u1", Limit: 1, IncludeSummary: true}

	first, err := m.Retrieve(context.Background(), params, "")
	require.NoError(t, err)
	second, err := m.Retrieve(context.Background(), params, "")
	require.NoError(t, err)

	assert.Equal(t, 1, f.count(broker.MethodRetrieveMemories))
	assert.Equal(t, 42, first.Total)
	assert.Equal(t, 42, second.Total)
	assert.Len(t, second.Records, 1)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRetrieve_InvalidationWithSeparatorInUserID(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager(t)

	for _, user := range []string{"tenant|u1", "tenant"} {
		_, err := m.Retrieve(ctx, RetrieveParams{UserID: user}, "")
		require.NoError(t, err)
	}
	_, err := m.Store(ctx, StoreParams{UserID: "tenant|u1", Type: TypeSymptom, SkipExtraction: true}, "")
	require.NoError(t, err)

	for _, user := range []string{"tenant|u1", "tenant"} {
		_, err := m.Retrieve(ctx, RetrieveParams{UserID: user}, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.count(broker.MethodRetrieveMemories), "only tenant|u1 is fetched again")
}

func TestRetrieve_FallbackWhenServiceDown(t *testing.T) {
	m, f, _ := newTestManager(t)
	f.set(broker.MethodRetrieveMemories, statusBody(http.StatusServiceUnavailable, ""))
	res, err := m.Retrieve(context.Background(), RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.Total)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, f, repo := newTestManager(t)

	_, err := m.Store(ctx, StoreParams{UserID: "u1", Type: TypeSymptom, Content: MemoryContent{OriginalText: "severe headache"}}, "")
	require.NoError(t, err)
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)

	ok, err := m.Delete(ctx, "mem-1", "u1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	row, err := repo.GetMemoryMetadataByID(ctx, "mem-1")
	require.NoError(t, err)
	assert.Nil(t, row)
	entries, err := repo.GetSymptomTimelineEntries(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.JSONEq(t, `{"memoryId":"mem-1","userId":"u1"}`, f.lastBody(broker.MethodDeleteMemory))

	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories))
}

func TestDelete_NotConfirmed(t *testing.T) {
	ctx := context.Background()
	m, f, repo := newTestManager(t)
	_, err := m.Store(ctx, StoreParams{UserID: "u1", Type: TypeSymptom, SkipExtraction: true}, "")
	require.NoError(t, err)

	f.set(broker.MethodDeleteMemory, jsonBody(`{"deleted":false}`))
	ok, err := m.Delete(ctx, "mem-1", "u1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, repo.CountMetadata("u1"))

	f.set(broker.MethodDeleteMemory, jsonBody(`{"success":true,"deleted":false}`))
	ok, err = m.Delete(ctx, "mem-1", "u1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, repo.CountMetadata("u1"))

	f.set(broker.MethodDeleteMemory, statusBody(http.StatusForbidden, ""))
	ok, err = m.Delete(ctx, "mem-1", "u1", "")
	assert.False(t, ok)
	assert.Equal(t, broker.KindAuthenticationFailed, broker.KindOf(err))
	assert.Equal(t, 1, repo.CountMetadata("u1"))
}

func TestConfirmed(t *testing.T) {
	cases := map[string]bool{
		``:                                 true,
		`null`:                             true,
		`true`:                             true,
		`{"deleted":true}`:                 true,
		`{"success":true}`:                 true,
		`{"success":false,"deleted":true}`: true,
		`{"deleted":false}`:                false,
		`{"success":true,"deleted":false}`: false,
		`false`:                            false,
		`{}`:                               false,
		`"ok"`:                             false,
	}
	for in, want := range cases {
		assert.Equal(t, want, confirmed(json.RawMessage(in)), in)
	}
}

func TestUpdate_LocalOnly(t *testing.T) {
	ctx := context.Background()
	m, f, repo := newTestManager(t)
	_, err := m.Store(ctx, StoreParams{UserID: "u1", Type: TypeSymptom, SkipExtraction: true}, "")
	require.NoError(t, err)
	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)

	summary := "updated summary"
	kind := TypeMedicalEvent
	row, err := m.Update(ctx, "mem-1", "u1", UpdateParams{Summary: &summary, Type: &kind})
	require.NoError(t, err)
	assert.Equal(t, "updated summary", row.Summary)
	assert.Equal(t, "medical_event", row.Type)
	assert.Equal(t, 0, f.count(broker.MethodUpdateMemory))

	stored, _ := repo.GetMemoryMetadataByID(ctx, "mem-1")
	assert.Equal(t, "updated summary", stored.Summary)

	_, err = m.Retrieve(ctx, RetrieveParams{UserID: "u1"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(broker.MethodRetrieveMemories), "update invalidates the owner's cache")

	_, err = m.Update(ctx, "missing", "u1", UpdateParams{Summary: &summary})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	other := "rewritten by another user"
	_, err = m.Update(ctx, "mem-1", "u2", UpdateParams{Summary: &other})
	assert.ErrorIs(t, err, errors.ErrNotFound)
	stored, _ = repo.GetMemoryMetadataByID(ctx, "mem-1")
	assert.Equal(t, "updated summary", stored.Summary)

	_, err = m.Update(ctx, "mem-1", "", UpdateParams{Summary: &other})
	assert.ErrorIs(t, err, errors.ErrInvalidArg)
}

func TestTimelineAndTrend(t *testing.T) {
	ctx := context.Background()
	m, f, _ := newTestManager(t)

	_, err := m.Timeline(ctx, "")
	assert.ErrorIs(t, err, errors.ErrInvalidArg)

	_, err = m.Store(ctx, StoreParams{UserID: "u1", Type: TypeSymptom, Content: MemoryContent{OriginalText: "severe headache"}}, "")
	require.NoError(t, err)
	entries, err := m.Timeline(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	f.set(broker.MethodRetrieveMemories, jsonBody(`[
		{"id":"a","userId":"u1","type":"symptom","content":{"originalText":"x","extractedSymptoms":[{"description":"cough","severity":3,"occurredAt":"2024-03-01T08:00:00Z"}]}},
		{"id":"b","userId":"u1","type":"symptom","content":{"originalText":"y","extractedSymptoms":[{"description":"Cough","severity":6,"occurredAt":"2024-03-04T08:00:00Z"}]}}
	]`))
	report, err := m.AnalyzeUserTrend(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cough"}, report.Worsening)
}
