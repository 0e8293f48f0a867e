package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/framework"
)

func TestFileRunStoreRoundTripAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRunStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	older := &framework.Run{ID: "run-1", Request: "first", Status: framework.RunCompleted, StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := &framework.Run{
		ID:        "run-2",
		Request:   "add a search box",
		Agents:    []string{"planner", "coder"},
		Status:    framework.RunFailed,
		Failure:   &framework.RunFailure{Agent: "coder", Index: 1, Error: "boom", Hint: "retry"},
		StartedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Steps: []framework.WorkflowStep{
			{Index: 0, Agent: "planner", Role: framework.RolePlan, Status: framework.StepCompleted, Output: "1. a\n2. b"},
			{Index: 1, Agent: "coder", Role: framework.RoleImplement, Status: framework.StepError, Error: "boom"},
		},
	}
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))
	assert.False(t, newer.UpdatedAt.IsZero())

	reopened, err := NewFileRunStore(dir)
	require.NoError(t, err)
	loaded, ok, err := reopened.Load(ctx, "run-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "add a search box", loaded.Request)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, framework.StepError, loaded.Steps[1].Status)
	assert.Equal(t, "retry", loaded.Failure.Hint)

	runs, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)

	require.NoError(t, reopened.Delete(ctx, "run-2"))
	_, ok, err = reopened.Load(ctx, "run-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, reopened.Save(ctx, &framework.Run{}))
}

func TestFileRunStoreSnapshotsAreIsolated(t *testing.T) {
	store, err := NewFileRunStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	run := &framework.Run{ID: "r", Steps: []framework.WorkflowStep{{Agent: "coder", Status: framework.StepRunning}}}
	require.NoError(t, store.Save(ctx, run))
	run.Steps[0].Status = framework.StepCompleted

	loaded, _, err := store.Load(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, framework.StepRunning, loaded.Steps[0].Status)
}

func TestMemoryRunStore(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &framework.Run{ID: "a"}))
	_, ok, _ := store.Load(ctx, "a")
	assert.True(t, ok)
	runs, _ := store.List(ctx)
	assert.Len(t, runs, 1)
	require.NoError(t, store.Delete(ctx, "a"))
	_, ok, _ = store.Load(ctx, "a")
	assert.False(t, ok)
}

func TestFileTranscriptStore(t *testing.T) {
	store, err := NewFileTranscriptStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1",
		TranscriptEntry{Step: 0, Agent: "planner", Message: framework.Message{Role: framework.RoleUser, Content: "hi"}},
	))
	require.NoError(t, store.Append(ctx, "run-1",
		TranscriptEntry{Step: 0, Agent: "planner", Message: framework.Message{Role: framework.RoleAssistant, Content: "1. a"}},
	))
	history, err := store.History(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "1. a", history[1].Message.Content)

	empty, err := store.History(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Clear(ctx, "run-1"))
	require.NoError(t, store.Clear(ctx, "run-1"))
	assert.Error(t, store.Append(ctx, "", TranscriptEntry{}))
}

func suggestionStores(t *testing.T) map[string]framework.SuggestionStore {
	sqlite, err := NewSQLiteSuggestionStore(filepath.Join(t.TempDir(), "suggestions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]framework.SuggestionStore{
		"memory": NewMemorySuggestionStore(),
		"sqlite": sqlite,
	}
}

func TestSuggestionStores(t *testing.T) {
	for name, store := range suggestionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			fix := framework.Suggestion{
				ID:               "s1",
				RunID:            "run-1",
				Agent:            "auditor",
				Type:             framework.SuggestionFix,
				Title:            "Escape query",
				AffectedFiles:    []string{"app/page.tsx"},
				SuggestedChanges: []framework.SuggestedChange{{Path: "app/page.tsx", Content: "x\n", Diff: "+x\n"}},
				Priority:         framework.PriorityHigh,
				CreatedAt:        created,
			}
			note := framework.Suggestion{ID: "s2", RunID: "run-2", Agent: "reviewer", Type: framework.SuggestionImprovement, Title: "Add tests", CreatedAt: created}
			require.NoError(t, store.Add(ctx, fix))
			require.NoError(t, store.Add(ctx, note))

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, framework.SuggestionPending, got.Status)
			assert.Equal(t, fix.SuggestedChanges, got.SuggestedChanges)
			assert.Equal(t, []string{"app/page.tsx"}, got.AffectedFiles)
			assert.True(t, created.Equal(got.CreatedAt))

			all, err := store.List(ctx, framework.SuggestionFilter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "s1", all[0].ID)

			byRun, err := store.List(ctx, framework.SuggestionFilter{RunID: "run-2"})
			require.NoError(t, err)
			require.Len(t, byRun, 1)
			assert.Equal(t, "s2", byRun[0].ID)

			approved, err := framework.Approve(ctx, store, "s1")
			require.NoError(t, err)
			assert.Equal(t, framework.SuggestionApproved, approved.Status)

			_, err = framework.Reject(ctx, store, "s1")
			var te *framework.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, framework.SuggestionApproved, te.From)

			applied, err := store.SetStatus(ctx, "s1", framework.SuggestionApplied)
			require.NoError(t, err)
			assert.Equal(t, framework.SuggestionApplied, applied.Status)

			pending, err := store.List(ctx, framework.SuggestionFilter{Status: framework.SuggestionPending})
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "s2", pending[0].ID)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, framework.ErrSuggestionNotFound)
			_, err = framework.Approve(ctx, store, "missing")
			assert.ErrorIs(t, err, framework.ErrSuggestionNotFound)
		})
	}
}

func TestDirArtifactStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirArtifactStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "app/page.tsx", "export default function Page() {}\n", ""))
	require.NoError(t, store.Upsert(ctx, "/package.json", "{}\n", ""))
	require.NoError(t, store.Upsert(ctx, "app/page.tsx", "export default 1\n", ""))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))

	var invalid *framework.InvalidPathError
	assert.ErrorAs(t, store.Upsert(ctx, "../escape.ts", "x", ""), &invalid)

	files, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "app/page.tsx", files[0].Path)
	assert.Equal(t, "export default 1\n", files[0].Content)
	assert.Equal(t, "typescript", files[0].Language)
	assert.Equal(t, "package.json", files[1].Path)

	require.NoError(t, store.ClearAll(ctx))
	files, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestNewS3ArtifactStoreValidatesConfig(t *testing.T) {
	_, err := NewS3ArtifactStore(S3Config{})
	assert.ErrorContains(t, err, "endpoint")
	_, err = NewS3ArtifactStore(S3Config{Endpoint: "localhost:9000", Bucket: "b"})
	assert.ErrorContains(t, err, "access key")
	_, err = NewS3ArtifactStore(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"})
	assert.ErrorContains(t, err, "bucket")

	store, err := NewS3ArtifactStore(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b", Prefix: "/projects/demo/"})
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/app/page.tsx", store.objectKey("app/page.tsx"))
	assert.Equal(t, "us-east-1", store.region)
}
