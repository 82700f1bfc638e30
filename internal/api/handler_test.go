package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/recall/internal/chat"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/memory/embedding"
	"github.com/blueberrycongee/recall/internal/memory/memstore"
	"github.com/blueberrycongee/recall/internal/records"
	"github.com/blueberrycongee/recall/internal/search"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

type stubChatter struct {
	got chat.Request
	err error
}

func (s *stubChatter) Chat(_ context.Context, req chat.Request) (*chat.Response, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &chat.Response{
		Status:    "success",
		Response:  chat.Reply{Role: "assistant", Content: "hi there"},
		DebugInfo: chat.DebugInfo{States: []string{chat.StateReceived, chat.StateSucceeded}},
	}, nil
}

type fixture struct {
	mux   *http.ServeMux
	store *memstore.Store
	chat  *stubChatter
	cfg   *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	store := memstore.New()
	emb := embedding.New(embedding.NewHashBackend(64), embedding.Options{Dimensions: 64})
	rec := records.NewService(store, emb, nil)
	for _, a := range []memory.Atom{
		{ID: "a1", Summary: "cat", Content: "a cat sat", Timestamp: "2024-01-01",
			Relationships: []memory.Relationship{{TargetID: "a2", Type: "similar_to", Weight: 0.9}}},
		{ID: "a2", Summary: "dog", Content: "a dog ran", Timestamp: "2024-01-02"},
		{ID: "a3", Summary: "tax", Content: "invoice reconciliation", Timestamp: "2024-01-03"},
	} {
		require.NoError(t, rec.Create(context.Background(), a))
	}

	f := &fixture{mux: http.NewServeMux(), store: store, chat: &stubChatter{}, cfg: cfg}
	h := NewHandler(search.NewService(emb, store, nil, nil), rec, f.chat, func() *config.Config { return cfg }, nil)
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type envelope struct {
	Error      string `json:"error"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/search", `{"text":"a cat sat","config":{"target":"content","limit":2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	results := raw["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "a1", first["id"])
	assert.Contains(t, first, "_distance")
	assert.NotContains(t, first, "vector_content")
	assert.Equal(t, false, raw["compressed"])
}

func TestSearchEndpoint_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"empty text", `{"text":""}`, http.StatusBadRequest, llmerrors.KindInvalidQuery},
		{"bad target", `{"text":"x","config":{"target":"title"}}`, http.StatusBadRequest, llmerrors.KindInvalidQuery},
		{"malformed json", `{"text":`, http.StatusBadRequest, llmerrors.KindValidation},
		{"compress without summarizer", `{"text":"cat","config":{"compress":true}}`, http.StatusServiceUnavailable, llmerrors.KindSummarizationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/search", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			env := decodeBody[envelope](t, rec)
			assert.Equal(t, tt.kind, env.Error)
			assert.Equal(t, tt.status, env.StatusCode)
			assert.NotEmpty(t, env.Detail)
		})
	}
}

func TestSearchEndpoint_ZeroLimit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/search", `{"text":"cat","config":{"limit":0}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[],"compressed":false}`, rec.Body.String())
}

func TestGraphSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/graph_search", `{"text":"cat","config":{"target":"summary","limit":1,"related_limit":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[SearchResponse](t, rec)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a1", res.Results[0].ID)
	assert.Equal(t, "a2", res.Results[1].ID)
	assert.Nil(t, res.Results[1].Distance)
}

func TestListEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/list", `{"limit":2,"offset":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[records.ListResponse](t, rec)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "a2", res.Records[0].ID)

	rec = f.do(http.MethodPost, "/list", `{"start_date":"2024-01-02","end_date":"2024-01-02"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[records.ListResponse](t, rec).Total)

	rec = f.do(http.MethodPost, "/list", `{"offset":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndDeleteEndpoints(t *testing.T) {
	f := newFixture(t)
	before, err := f.store.Get(context.Background(), "a1")
	require.NoError(t, err)

	rec := f.do(http.MethodPut, "/update/a1", `{"summary":"cat","content":"a dog sat","timestamp":"2024-01-01","speakers":["me"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Record a1 updated", decodeBody[MessageResponse](t, rec).Message)

	after, err := f.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, before.VectorSummary, after.VectorSummary)
	assert.NotEqual(t, before.VectorContent, after.VectorContent)

	rec = f.do(http.MethodPut, "/update/nope", `{"summary":"x","content":"y"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, llmerrors.KindNotFound, decodeBody[envelope](t, rec).Error)

	rec = f.do(http.MethodDelete, "/delete/a1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.do(http.MethodDelete, "/delete/a1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting an absent id succeeds")
}

func TestChatEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hello"}],"config":{"temperature":0.3,"memory_search_config":{"search_type":"graph_search","limit":2}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[chat.Response](t, rec)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "hi there", res.Response.Content)
	require.NotNil(t, f.chat.got.Config.Temperature)
	assert.InDelta(t, 0.3, *f.chat.got.Config.Temperature, 1e-9)
	assert.Equal(t, chat.SearchTypeGraph, f.chat.got.Config.MemorySearch.SearchType)
	assert.Equal(t, 2, *f.chat.got.Config.MemorySearch.Limit)

	f.chat.err = llmerrors.NewLLMError("model call timed out after 90s")
	rec = f.do(http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hello"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, llmerrors.KindLLM, decodeBody[envelope](t, rec).Error)

	f.chat.err = errors.New("LEAKME password=secret")
	rec = f.do(http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hello"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "LEAKME")
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Server.MaxBodyBytes = 16
	rec := f.do(http.MethodPost, "/search", `{"text":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[envelope](t, rec).Detail, "too large")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecover(t *testing.T) {
	h := Recover(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom: secret stack detail")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, llmerrors.KindInternal, decodeBody[envelope](t, rec).Error)
}
