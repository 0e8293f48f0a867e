package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/agents"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/llm"
	"github.com/lexcodex/codeforge/persistence"
)

const (
	searchBox = "```tsx\n// filepath: components/SearchBox.tsx\nexport default function SearchBox() {\n  return <input />\n}\n```\n"

	brokenPage = "```tsx\n// filepath: components/SearchBox.tsx\nexport function SearchBox() {\n  return <input />\n}\n```\n\n" +
		"```tsx\n// filepath: app/page.tsx\nimport SearchBox from '@/components/SearchBox'\n\nexport default function Page() {\n  return <SearchBox />\n}\n```\n"
)

type fixture struct {
	api         *APIServer
	handler     http.Handler
	store       *framework.MemoryArtifactStore
	runs        *persistence.MemoryRunStore
	suggestions *persistence.MemorySuggestionStore
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:       framework.NewMemoryArtifactStore(),
		runs:        persistence.NewMemoryRunStore(),
		suggestions: persistence.NewMemorySuggestionStore(),
	}
	exec := &agents.Executor{
		Model:       llm.NewScriptedModel(replies...),
		Store:       f.store,
		Runs:        f.runs,
		Suggestions: f.suggestions,
		Retry:       llm.RetryPolicy{Sleep: func(context.Context, time.Duration) error { return nil }},
	}
	f.api = &APIServer{
		Executor: exec,
		Runs:     f.runs,
		Metrics:  NewMetrics(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	exec.Telemetry = f.api.Metrics
	f.handler = f.api.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestStartRunAndWait(t *testing.T) {
	f := newFixture(t, searchBox)

	rec := f.do(t, http.MethodPost, "/api/runs", RunRequest{
		RunRequest: agents.RunRequest{ID: "r1", Request: "Add a search box", Agents: []string{"coder"}},
		Wait:       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RunResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.Run)
	assert.Equal(t, framework.RunCompleted, resp.Run.Status)

	rec = f.do(t, http.MethodGet, "/api/runs/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run framework.Run
	decode(t, rec, &run)
	assert.Equal(t, []string{"components/SearchBox.tsx"}, run.Steps[0].Files)

	rec = f.do(t, http.MethodGet, "/api/runs", nil)
	var runs []framework.Run
	decode(t, rec, &runs)
	assert.Len(t, runs, 1)

	rec = f.do(t, http.MethodGet, "/api/artifact?path=components/SearchBox.tsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var file framework.ArtifactFile
	decode(t, rec, &file)
	assert.Contains(t, file.Content, "export default function SearchBox")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/runs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/artifact?path=missing.ts", nil).Code)
}

func TestFailedRunReportsHint(t *testing.T) {
	f := newFixture(t, "no code here", "still none")

	rec := f.do(t, http.MethodPost, "/api/runs", RunRequest{
		RunRequest: agents.RunRequest{Request: "Add a search box", Agents: []string{"coder"}},
		Wait:       true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp RunResponse
	decode(t, rec, &resp)
	assert.Equal(t, framework.RunFailed, resp.Run.Status)
	assert.NotEmpty(t, resp.Error)
	assert.NotEmpty(t, resp.Hint)
}

func TestStartRunValidatesInput(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/runs", map[string]string{"request": " "}).Code)

	rec := f.do(t, http.MethodPost, "/api/runs", RunRequest{
		RunRequest: agents.RunRequest{Request: "x", Agents: []string{"designer"}},
		Wait:       true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncRunCompletesInBackground(t *testing.T) {
	f := newFixture(t, searchBox)

	rec := f.do(t, http.MethodPost, "/api/runs", map[string]interface{}{
		"id":      "bg",
		"request": "Add a search box",
		"agents":  []string{"coder"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		run, ok, err := f.runs.Load(context.Background(), "bg")
		return err == nil && ok && run.Status == framework.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
	f.api.wg.Wait()
}

func TestBusyWorkspaceRejectsSecondRun(t *testing.T) {
	f := newFixture(t)
	f.api.busy.Lock()
	defer f.api.busy.Unlock()

	rec := f.do(t, http.MethodPost, "/api/runs", map[string]string{"request": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/runtime-failures", FixRequest{Failure: "boom"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/api/artifact", nil).Code)
}

func TestSuggestionActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.suggestions.Add(ctx, framework.Suggestion{ID: "a", Agent: "reviewer", Title: "Label the input", Priority: framework.PriorityMedium}))
	require.NoError(t, f.suggestions.Add(ctx, framework.Suggestion{
		ID: "b", Agent: "reviewer", Title: "Default export", Priority: framework.PriorityHigh,
		SuggestedChanges: []framework.SuggestedChange{{Path: "components/SearchBox.tsx", Content: "export default function SearchBox() { return null }\n"}},
	}))

	rec := f.do(t, http.MethodGet, "/api/suggestions?status=pending", nil)
	var list []framework.Suggestion
	decode(t, rec, &list)
	assert.Len(t, list, 2)

	rec = f.do(t, http.MethodPost, "/api/suggestions/a/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sug framework.Suggestion
	decode(t, rec, &sug)
	assert.Equal(t, framework.SuggestionApproved, sug.Status)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/suggestions/a/reject", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/api/suggestions/a/apply", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/suggestions/zzz/approve", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/suggestions/a/frobnicate", nil).Code)

	rec = f.do(t, http.MethodPost, "/api/suggestions/b/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	files, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)

	rec = f.do(t, http.MethodGet, "/api/suggestions?status=applied", nil)
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
}

func TestRuntimeFailureEndpoint(t *testing.T) {
	f := newFixture(t, searchBox)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, "components/SearchBox.tsx", "export function SearchBox() {\n  return <input />\n}\n", "typescript"))
	require.NoError(t, f.store.Upsert(ctx, "app/page.tsx", "import SearchBox from '@/components/SearchBox'\n\nexport default function Page() {\n  return <SearchBox />\n}\n", "typescript"))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/runtime-failures", FixRequest{}).Code)

	rec := f.do(t, http.MethodPost, "/api/runtime-failures", FixRequest{Failure: "TypeError: SearchBox is not a function"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp FixResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Fixed)
	assert.Equal(t, []string{"components/SearchBox.tsx"}, resp.Changed)
	assert.Equal(t, 100, resp.Score)
	assert.Equal(t, 1, resp.Attempts)
}

func TestClearArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Upsert(context.Background(), "a.ts", "export const a = 1\n", "typescript"))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/artifact", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/artifact", nil)
	var files []framework.ArtifactFile
	decode(t, rec, &files)
	assert.Empty(t, files)
}

func TestMetricsEndpointServesRunCounters(t *testing.T) {
	f := newFixture(t, searchBox)
	rec := f.do(t, http.MethodPost, "/api/runs", RunRequest{
		RunRequest: agents.RunRequest{Request: "Add a search box", Agents: []string{"coder"}},
		Wait:       true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `codeforge_runs_total{status="completed"} 1`)
	assert.Contains(t, body, `codeforge_steps_total{agent="coder",status="completed"} 1`)
	assert.Contains(t, body, "codeforge_llm_calls_total")
}
