package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/agents/suggest"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/llm"
	"github.com/lexcodex/codeforge/persistence"
)

const (
	searchPlan = "1. Create components/SearchBox.tsx with a text input\n2. Render SearchBox from app/page.tsx\n"

	brokenDraft = "Here is the search box.\n\n" +
		"```tsx\n// filepath: components/SearchBox.tsx\nexport function SearchBox() {\n  return <input />\n}\n```\n\n" +
		"```tsx\n// filepath: app/page.tsx\nimport SearchBox from '@/components/SearchBox'\n\nexport default function Page() {\n  return <SearchBox />\n}\n```\n"

	fixedRevision = "Added the default export.\n\n" +
		"```tsx\n// filepath: components/SearchBox.tsx\nexport default function SearchBox() {\n  return <input />\n}\n```\n"

	// doubleBroken misses both a default export and a whole component.
	doubleBroken = "```tsx\n// filepath: components/SearchBox.tsx\nexport function SearchBox() {\n  return <input />\n}\n```\n\n" +
		"```tsx\n// filepath: app/page.tsx\nimport SearchBox from '@/components/SearchBox'\nimport Header from '@/components/Header'\n\nexport default function Page() {\n  return <main><Header /><SearchBox /></main>\n}\n```\n"

	reviewNotes = "Issue: components/SearchBox.tsx renders an input without an accessible label\n"
)

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type harness struct {
	exec        *Executor
	model       *llm.ScriptedModel
	store       *framework.MemoryArtifactStore
	runs        *persistence.MemoryRunStore
	suggestions *persistence.MemorySuggestionStore
	telemetry   *framework.RecordingTelemetry
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	h := &harness{
		model:       llm.NewScriptedModel(replies...),
		store:       framework.NewMemoryArtifactStore(),
		runs:        persistence.NewMemoryRunStore(),
		suggestions: persistence.NewMemorySuggestionStore(),
		telemetry:   &framework.RecordingTelemetry{},
	}
	h.exec = &Executor{
		Model:       h.model,
		Catalog:     DefaultCatalog(),
		Store:       h.store,
		Suggestions: h.suggestions,
		Runs:        h.runs,
		Telemetry:   h.telemetry,
		Retry:       llm.RetryPolicy{Sleep: func(context.Context, time.Duration) error { return nil }},
		Extractor:   suggest.Extractor{NewID: sequence("sug"), Now: fixedClock},
		NewID:       sequence("run"),
		Now:         fixedClock,
	}
	return h
}

func TestRunCorrectsBrokenImportAndCommitsFiles(t *testing.T) {
	h := newHarness(t, searchPlan, brokenDraft, fixedRevision, reviewNotes)
	ctx := context.Background()

	run, err := h.exec.Run(ctx, RunRequest{Request: "Build a search box on the home page"})
	require.NoError(t, err)
	assert.Equal(t, framework.RunCompleted, run.Status)
	assert.Equal(t, "run-1", run.ID)
	require.Len(t, run.Steps, 3)
	assert.Zero(t, h.model.Remaining())

	coder := run.Steps[1]
	assert.Equal(t, framework.StepCompleted, coder.Status)
	require.NotNil(t, coder.Validation)
	assert.Equal(t, 1, coder.Validation.Corrections)
	assert.Equal(t, "accepted", coder.Validation.Outcome)
	assert.Equal(t, 100, coder.Validation.Score)
	assert.Empty(t, coder.Validation.Critical)
	assert.Equal(t, []string{"app/page.tsx", "components/SearchBox.tsx"}, coder.Files)
	assert.Equal(t, fixedRevision, coder.Output)

	files, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	index := framework.FileIndex(files)
	assert.Contains(t, index["components/SearchBox.tsx"].Content, "export default function SearchBox")
	assert.Equal(t, "typescript", index["app/page.tsx"].Language)

	assert.Equal(t, 1, h.telemetry.Count(framework.EventCorrectionAttempt))
	assert.Equal(t, 1, h.telemetry.Count(framework.EventRunStart))
	assert.Equal(t, 1, h.telemetry.Count(framework.EventRunFinish))
	assert.Equal(t, 3, h.telemetry.Count(framework.EventStepFinish))
}

func TestRunFramesPriorOutputForNextAgent(t *testing.T) {
	h := newHarness(t, searchPlan, fixedRevision)

	_, err := h.exec.Run(context.Background(), RunRequest{Request: "Build a search box", Agents: []string{"planner", "coder"}})
	require.NoError(t, err)

	calls := h.model.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	system := calls[1][0]
	assert.Equal(t, framework.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Implementation plan from planner:")
	assert.Contains(t, system.Content, "Create components/SearchBox.tsx")
	assert.Equal(t, "Build a search box", calls[1][len(calls[1])-1].Content)
}

func TestReviewerRunIsServedFromCache(t *testing.T) {
	h := newHarness(t, reviewNotes)
	ctx := context.Background()
	require.NoError(t, h.store.Upsert(ctx, "components/SearchBox.tsx", "export default function SearchBox() {\n  return <input />\n}\n", "typescript"))
	cache, err := persistence.NewResponseCache(8)
	require.NoError(t, err)
	h.exec.Cache = cache

	req := RunRequest{Request: "Review the search box", Agents: []string{"reviewer"}}
	first, err := h.exec.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Steps[0].CacheHit)
	assert.Zero(t, h.model.Remaining())

	second, err := h.exec.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Steps[0].CacheHit)
	assert.Equal(t, first.Steps[0].Output, second.Steps[0].Output)
	assert.Len(t, h.model.Calls(), 1)
	assert.Equal(t, 1, h.telemetry.Count(framework.EventCacheHit))
	assert.Equal(t, 1, h.telemetry.Count(framework.EventCacheMiss))
}

func TestImplementationStepsBypassCache(t *testing.T) {
	h := newHarness(t, fixedRevision, fixedRevision)
	cache, err := persistence.NewResponseCache(8)
	require.NoError(t, err)
	h.exec.Cache = cache

	req := RunRequest{Request: "Write the search box", Agents: []string{"coder"}}
	for i := 0; i < 2; i++ {
		_, err := h.exec.Run(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Len(t, h.model.Calls(), 2)
	assert.Zero(t, cache.Len())
}

func TestEmptyParseRepromptsOnce(t *testing.T) {
	h := newHarness(t, "Sure, I will build it.", fixedRevision)

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Write the search box", Agents: []string{"coder"}})
	require.NoError(t, err)
	assert.Equal(t, framework.RunCompleted, run.Status)
	assert.Equal(t, strictFilesPrompt, h.model.LastUserTurn())
	assert.Equal(t, []string{"components/SearchBox.tsx"}, run.Steps[0].Files)
}

func TestParseFailureFailsRunWithHint(t *testing.T) {
	h := newHarness(t, "Sure, I will build it.", "Still no code, sorry.")

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Write the search box", Agents: []string{"coder"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, framework.ErrParseFailure)

	var stepErr *framework.StepFailure
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "coder", stepErr.Agent)
	assert.NotEmpty(t, stepErr.Hint)

	require.NotNil(t, run)
	assert.Equal(t, framework.RunFailed, run.Status)
	require.NotNil(t, run.Failure)
	assert.Equal(t, stepErr.Hint, run.Failure.Hint)
	assert.Equal(t, framework.StepError, run.Steps[0].Status)

	saved, ok, err := h.runs.Load(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, framework.RunFailed, saved.Status)
}

func TestFatalProviderErrorKeepsCommittedFiles(t *testing.T) {
	// The second coder step exhausts the script, which is a fatal error.
	h := newHarness(t, fixedRevision)
	ctx := context.Background()

	run, err := h.exec.Run(ctx, RunRequest{Request: "Write the search box", Agents: []string{"coder", "coder"}})
	require.Error(t, err)
	assert.False(t, framework.IsRecoverable(err))
	assert.Equal(t, framework.StepCompleted, run.Steps[0].Status)
	assert.Equal(t, framework.StepError, run.Steps[1].Status)
	assert.Equal(t, 1, run.Failure.Index)
	assert.Zero(t, h.telemetry.Count(framework.EventProviderRetry))

	files, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

type flakyOnce struct {
	inner  framework.LanguageModel
	failed bool
}

func (f *flakyOnce) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return f.Chat(ctx, []framework.Message{{Role: framework.RoleUser, Content: prompt}}, options)
}

func (f *flakyOnce) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if !f.failed {
		f.failed = true
		return nil, llm.Classify("test", 503, errors.New("overloaded"))
	}
	return f.inner.Chat(ctx, messages, options)
}

func TestRecoverableProviderErrorIsRetried(t *testing.T) {
	h := newHarness(t, searchPlan)
	h.exec.Model = &flakyOnce{inner: h.model}

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Plan a search box", Agents: []string{"planner"}})
	require.NoError(t, err)
	assert.Equal(t, framework.RunCompleted, run.Status)
	assert.Equal(t, 1, h.telemetry.Count(framework.EventProviderRetry))
}

func TestCorrectionCeilingAbortsRun(t *testing.T) {
	h := newHarness(t, doubleBroken, brokenDraft)
	h.exec.MaxCorrections = 1

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Write the page", Agents: []string{"coder"}})
	require.Error(t, err)
	var exhausted *framework.CorrectionExhausted
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, framework.RunFailed, run.Status)

	files, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCorrectionCeilingCanContinue(t *testing.T) {
	h := newHarness(t, doubleBroken, brokenDraft)
	h.exec.MaxCorrections = 1
	h.exec.ContinueOnExhausted = true

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Write the page", Agents: []string{"coder"}})
	require.NoError(t, err)
	step := run.Steps[0]
	assert.NotEmpty(t, step.Warning)
	assert.Equal(t, "exhausted:ceiling", step.Validation.Outcome)
	assert.Len(t, step.Validation.Critical, 1)
	assert.Equal(t, 75, step.Validation.Score)
}

func TestNoImprovementLeavesWarningOnly(t *testing.T) {
	h := newHarness(t, brokenDraft, "I could not find anything to change.")

	run, err := h.exec.Run(context.Background(), RunRequest{Request: "Write the page", Agents: []string{"coder"}})
	require.NoError(t, err)
	step := run.Steps[0]
	assert.Equal(t, "exhausted:no_improvement", step.Validation.Outcome)
	assert.Contains(t, step.Warning, "validation failed")
	assert.Equal(t, brokenDraft, step.Output)

	files, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestReviewerFindingsBecomeSuggestions(t *testing.T) {
	h := newHarness(t, reviewNotes)
	ctx := context.Background()
	require.NoError(t, h.store.Upsert(ctx, "components/SearchBox.tsx", "export default function SearchBox() {\n  return <input />\n}\n", "typescript"))

	run, err := h.exec.Run(ctx, RunRequest{Request: "Review the search box", Agents: []string{"reviewer"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sug-1"}, run.Steps[0].Suggestions)

	stored, err := h.suggestions.List(ctx, framework.SuggestionFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "reviewer", stored[0].Agent)
	assert.Equal(t, framework.SuggestionPending, stored[0].Status)
	assert.Contains(t, stored[0].AffectedFiles, "components/SearchBox.tsx")
	assert.Equal(t, 1, h.telemetry.Count(framework.EventSuggestionAdded))
}

func TestRunSnapshotsAndTranscripts(t *testing.T) {
	h := newHarness(t, searchPlan)
	transcripts, err := persistence.NewFileTranscriptStore(t.TempDir())
	require.NoError(t, err)
	h.exec.Transcripts = transcripts
	ctx := context.Background()

	run, err := h.exec.Run(ctx, RunRequest{ID: "plan-only", Request: "Plan a search box", Agents: []string{"planner"}})
	require.NoError(t, err)

	saved, ok, err := h.runs.Load(ctx, "plan-only")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, framework.RunCompleted, saved.Status)
	assert.Equal(t, searchPlan, saved.Steps[0].Output)

	history, err := transcripts.History(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, framework.RoleSystem, history[0].Message.Role)
	assert.Equal(t, framework.RoleAssistant, history[2].Message.Role)
	assert.Equal(t, "planner", history[2].Agent)
}

func TestRunRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.Run(context.Background(), RunRequest{Request: "   "})
	assert.Error(t, err)

	_, err = h.exec.Run(context.Background(), RunRequest{Request: "x", Agents: []string{"designer"}})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = (&Executor{}).Run(context.Background(), RunRequest{Request: "x"})
	assert.Error(t, err)
}
