package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay"
	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/engine"
	"github.com/patrice-hue/indexrelay/queue"
	"github.com/patrice-hue/indexrelay/settings"
	"github.com/patrice-hue/indexrelay/vault"
)

// stubStore records calls and serves canned data.
type stubStore struct {
	items    []queue.Item
	total    int
	filter   datastore.Filter
	cleared  bool
	enqueued []string
	outcomes []datastore.Outcome
}

func (s *stubStore) Enqueue(_ context.Context, url string, _ queue.Action, _ queue.EngineSet) (int64, error) {
	s.enqueued = append(s.enqueued, url)
	return int64(len(s.enqueued)), nil
}

func (s *stubStore) DequeueDue(context.Context, int, int) ([]queue.Item, error) { return nil, nil }

func (s *stubStore) IncrementAttempt(context.Context, int64) error { return nil }

func (s *stubStore) RecordOutcome(_ context.Context, o datastore.Outcome) error {
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *stubStore) SweepExpired(context.Context, int) (int64, error) { return 0, nil }

func (s *stubStore) Query(_ context.Context, f datastore.Filter) ([]queue.Item, int, error) {
	s.filter = f
	return s.items, s.total, nil
}

func (s *stubStore) ClearAll(context.Context) error {
	s.cleared = true
	return nil
}

func (s *stubStore) ExportCSV(context.Context) ([]byte, error) {
	return []byte("ID,URL,Action,Engine,Status,HTTP Code,Response,Attempts,Created,Processed\n"), nil
}

func (s *stubStore) Close() error { return nil }

type stubBulk struct {
	calls int
}

func (b *stubBulk) Submit(_ context.Context, urls []string, _ string, _ int) []engine.BatchResult {
	b.calls++
	return []engine.BatchResult{{URLs: urls, HTTPCode: 200, Response: "ok", Success: true}}
}

type stubIndexing struct{}

func (stubIndexing) Submit(_ context.Context, urls []string, _ engine.ServiceAccount, _ string) []engine.URLResult {
	out := make([]engine.URLResult, 0, len(urls))
	for _, u := range urls {
		out = append(out, engine.URLResult{URL: u, HTTPCode: 200, Response: "ok", Success: true})
	}
	return out
}

func newTestHandler(store *stubStore, apiKey string) *Handler {
	return &Handler{
		Store: store,
		Submitter: &indexrelay.Submitter{
			Store:    store,
			Bulk:     &stubBulk{},
			Indexing: stubIndexing{},
			Settings: settings.Static(settings.Settings{APIKey: "site-key"}),
			Vault:    vault.New("httpapi-test-secret"),
			Logger:   zap.NewNop(),
		},
		APIKey: apiKey,
		Logger: zap.NewNop(),
	}
}

func TestListQueue(t *testing.T) {
	store := &stubStore{
		items: []queue.Item{{
			ID:        7,
			URL:       "https://ex.com/a",
			Action:    queue.ActionUpdated,
			Engines:   queue.EngineSet{queue.EngineBing},
			Status:    queue.StatusDone,
			Engine:    queue.EngineBing,
			HTTPCode:  200,
			Attempts:  1,
			CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		}},
		total: 55,
	}
	h := newTestHandler(store, "")

	req := httptest.NewRequest(http.MethodGet, "/api/queue?page=3&status=done&engine=bing&orderby=id&order=ASC", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 55, resp.Total)
	assert.Equal(t, 3, resp.Page)
	assert.Equal(t, defaultPerPage, resp.PerPage)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "https://ex.com/a", resp.Items[0].URL)

	// Query params flow through to the filter; page 3 means offset 40.
	assert.Equal(t, queue.StatusDone, store.filter.Status)
	assert.Equal(t, queue.EngineBing, store.filter.Engine)
	assert.Equal(t, 40, store.filter.Offset)
	assert.Equal(t, "id", store.filter.OrderBy)
}

func TestListQueue_DefaultsPage(t *testing.T) {
	store := &stubStore{}
	h := newTestHandler(store, "")

	req := httptest.NewRequest(http.MethodGet, "/api/queue?page=-2", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, store.filter.Offset)
}

func TestExportCSV(t *testing.T) {
	h := newTestHandler(&stubStore{}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/queue/export", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="submission-queue.csv"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "ID,URL,Action,Engine,Status"))
}

func TestClearQueue(t *testing.T) {
	store := &stubStore{}
	h := newTestHandler(store, "")

	req := httptest.NewRequest(http.MethodPost, "/api/queue/clear", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, store.cleared)
}

func TestBulkEnqueue(t *testing.T) {
	store := &stubStore{}
	h := newTestHandler(store, "")

	body := `{"urls":["https://ex.com/a","https://ex.com/b"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"queued":2}`, rr.Body.String())
	assert.Equal(t, []string{"https://ex.com/a", "https://ex.com/b"}, store.enqueued)
}

func TestBulkEnqueue_BadBody(t *testing.T) {
	h := newTestHandler(&stubStore{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitNow(t *testing.T) {
	store := &stubStore{}
	h := newTestHandler(store, "")

	body := `{"urls":"https://ex.com/a\nhttps://ex.com/b","engines":["bing"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/submit", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Results []indexrelay.SubmitResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, queue.EngineBing, resp.Results[0].Engine)
	assert.Equal(t, queue.StatusDone, resp.Results[0].Status)

	// Each immediate submission is logged as a historical row.
	assert.Len(t, store.outcomes, 2)
}

func TestSubmitNow_NoValidURLs(t *testing.T) {
	h := newTestHandler(&stubStore{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/submit", strings.NewReader(`{"urls":"not a url"}`))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"no valid urls provided"}`, rr.Body.String())
}

func TestKeyRoute(t *testing.T) {
	key := "0f8fad5bd9cb469fa16570867728950e"
	h := newTestHandler(&stubStore{}, key)

	req := httptest.NewRequest(http.MethodGet, "/"+key+".txt", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, key, rr.Body.String())
	assert.Equal(t, "noindex", rr.Header().Get("X-Robots-Tag"))
}

func TestKeyRoute_NotRegisteredWithoutKey(t *testing.T) {
	h := newTestHandler(&stubStore{}, "")

	req := httptest.NewRequest(http.MethodGet, "/0f8fad5bd9cb469fa16570867728950e.txt", nil)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
