package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/compiler"
	"github.com/colebrumley/cortex/internal/metrics"
	"github.com/colebrumley/cortex/internal/perception"
	"github.com/colebrumley/cortex/internal/rules"
)

type fakeCompiler struct {
	rule rules.Rule
	err  error
}

func (f fakeCompiler) Compile(context.Context, string) (rules.Rule, error) {
	return f.rule, f.err
}

type fakeEvents struct {
	query string
}

func (f *fakeEvents) RecentEvents(context.Context, int) ([]activity.Event, error) {
	return []activity.Event{{ID: 1, Activity: "coding"}}, nil
}

func (f *fakeEvents) SearchEvents(_ context.Context, q string, _ int) ([]activity.Event, error) {
	f.query = q
	return nil, nil
}

func countRule(id string) rules.Rule {
	return rules.Rule{
		ID:       id,
		Name:     "rule " + id,
		Type:     rules.TypeCount,
		Count:    &rules.CountConfig{MaxCount: 2},
		Actions:  []rules.Action{{Type: "alert"}},
		IsActive: true,
	}
}

func newTestServer(t *testing.T, deps Deps) (*Server, *rules.Store) {
	t.Helper()
	store := rules.NewStore(nil)
	deps.Rules = store
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return New(deps, Options{}), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestHealth(t *testing.T) {
	s, store := newTestServer(t, Deps{})
	require.NoError(t, store.Add(countRule("a")))

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["rules_active"])
}

func TestCreateRule(t *testing.T) {
	s, store := newTestServer(t, Deps{})

	rec := do(t, s, http.MethodPost, "/api/rules", `{
		"name": "evening youtube",
		"type": "schedule",
		"conditions": [{"field": "domain", "operator": "==", "value": "youtube.com"}],
		"schedule": {"start_time": "20:00", "end_time": "23:00", "days": [1,2,3,4,5]},
		"actions": [{"type": "notification"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created rules.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, rules.SourceAPI, created.Source)
	assert.Equal(t, 1, store.Len())

	rec = do(t, s, http.MethodPost, "/api/rules", `{"id":"`+created.ID+`","name":"dup","type":"count","count":{"max_count":1}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/rules", `{"name":"bad","type":"time_window"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/rules", `{"name":"x","type":"count","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleAndDeleteRule(t *testing.T) {
	s, store := newTestServer(t, Deps{})
	require.NoError(t, store.Add(countRule("a")))
	_, err := store.Sync(rules.SourceFile, []rules.Rule{countRule("from-file")})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/api/rules/a/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"a","is_active":false}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/rules/from-file", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/rules/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/rules/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/rules/missing/toggle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompileRule(t *testing.T) {
	compiled := countRule("compiled-1")
	compiled.Source = rules.SourceCompiled
	s, store := newTestServer(t, Deps{Compiler: fakeCompiler{rule: compiled}})

	rec := do(t, s, http.MethodPost, "/api/rules/compile", `{"text":"at most two visits"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Len())

	rec = do(t, s, http.MethodPost, "/api/rules/compile", `{"text":"at most two visits","save":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	got, err := store.Get("compiled-1")
	require.NoError(t, err)
	assert.Equal(t, rules.SourceCompiled, got.Source)
}

func TestCompileRule_Rejected(t *testing.T) {
	s, _ := newTestServer(t, Deps{Compiler: fakeCompiler{err: compiler.ErrRejected}})
	rec := do(t, s, http.MethodPost, "/api/rules/compile", `{"text":"gibberish"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	s, _ = newTestServer(t, Deps{})
	rec = do(t, s, http.MethodPost, "/api/rules/compile", `{"text":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvents(t *testing.T) {
	events := &fakeEvents{}
	s, _ := newTestServer(t, Deps{Events: events})

	rec := do(t, s, http.MethodGet, "/api/events?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activity":"coding"`)

	rec = do(t, s, http.MethodGet, "/api/events?q=youtube", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, "youtube", events.query)
}

func TestExtensionBridge(t *testing.T) {
	bridge := perception.NewBridge()
	s, _ := newTestServer(t, Deps{Bridge: bridge})

	rec := do(t, s, http.MethodGet, "/extension-status", "")
	assert.JSONEq(t, `{"connected_extensions":0,"server_status":"running"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/extension-data", `{
		"event_type": "page_activity",
		"data": {"domain": "reddit.com", "activity": "browsing", "url": "https://reddit.com/", "title": "reddit", "tab_id": 4}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"received"`)

	latest, ok := bridge.Latest(time.Minute)
	require.True(t, ok)
	assert.Equal(t, "reddit.com", latest.Domain)

	rec = do(t, s, http.MethodGet, "/extension-status", "")
	assert.JSONEq(t, `{"connected_extensions":1,"server_status":"running"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/extension-data", `{"event_type":"noop","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryAndBlocksDefaultToEmpty(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	assert.Equal(t, "[]\n", do(t, s, http.MethodGet, "/api/history", "").Body.String())
	assert.Equal(t, "[]\n", do(t, s, http.MethodGet, "/api/blocks", "").Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	do(t, s, http.MethodGet, "/health", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cortex_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	store := rules.NewStore(nil)
	s := New(Deps{Rules: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Options{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
