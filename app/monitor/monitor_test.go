package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/framework"
)

func event(kind framework.EventType, agent string, meta map[string]interface{}) EventMsg {
	return EventMsg{Event: framework.Event{
		Type:      kind,
		RunID:     "run-1",
		Agent:     agent,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:  meta,
	}}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelTracksStepLifecycle(t *testing.T) {
	m := NewModel("Add a search box", []string{"planner", "coder"}, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m = update(t, m, event(framework.EventStepStart, "planner", map[string]interface{}{"step": 0, "role": "plan"}))
	steps := m.Steps()
	assert.Equal(t, framework.StepRunning, steps[0].Status)
	assert.Equal(t, "plan", steps[0].Role)
	assert.Equal(t, framework.StepIdle, steps[1].Status)

	m = update(t, m, event(framework.EventStepFinish, "planner", map[string]interface{}{
		"step": 0, "score": 100, "files": 0, "cache_hit": true, "duration_ms": int64(1500),
	}))
	m = update(t, m, event(framework.EventStepStart, "coder", map[string]interface{}{"step": 1, "role": "implement"}))
	m = update(t, m, event(framework.EventValidation, "coder", map[string]interface{}{"score": 75}))
	m = update(t, m, event(framework.EventCorrectionAttempt, "coder", map[string]interface{}{"attempt": 1}))

	steps = m.Steps()
	assert.Equal(t, framework.StepCompleted, steps[0].Status)
	assert.True(t, steps[0].CacheHit)
	assert.Equal(t, 1500*time.Millisecond, steps[0].Elapsed)
	assert.Equal(t, 75, steps[1].Score)
	assert.Equal(t, 1, steps[1].Corrections)

	m = update(t, m, event(framework.EventStepError, "coder", map[string]interface{}{"step": 1}))
	assert.Equal(t, framework.StepError, m.Steps()[1].Status)
}

func TestModelGrowsForUnknownSteps(t *testing.T) {
	m := NewModel("x", nil, nil)
	m = update(t, m, event(framework.EventStepStart, "auditor", map[string]interface{}{"step": 2}))
	steps := m.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "auditor", steps[2].Agent)
}

func TestModelCountsStats(t *testing.T) {
	m := NewModel("x", []string{"coder"}, nil)
	for _, kind := range []framework.EventType{
		framework.EventLLMResponse, framework.EventLLMResponse,
		framework.EventProviderRetry, framework.EventCacheHit, framework.EventSuggestionAdded,
	} {
		m = update(t, m, event(kind, "coder", nil))
	}
	assert.Equal(t, Stats{LLMCalls: 2, Retries: 1, CacheHits: 1, Suggestions: 1}, m.Stats())
}

func TestDoneQuits(t *testing.T) {
	m := NewModel("x", []string{"coder"}, nil)
	next, cmd := m.Update(DoneMsg{Err: errors.New("boom")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, next.(Model).Done())
}

func TestQuitKey(t *testing.T) {
	m := NewModel("x", nil, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewShowsStepsAndStatus(t *testing.T) {
	m := NewModel("Add a search box", []string{"planner", "coder"}, nil)
	assert.Equal(t, "Starting workflow...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m = update(t, m, event(framework.EventStepFinish, "planner", map[string]interface{}{"step": 0, "score": 90}))
	view := m.View()
	assert.Contains(t, view, "planner")
	assert.Contains(t, view, "coder")
	assert.Contains(t, view, "score 90")
	assert.Contains(t, view, "run run-1")
	assert.Contains(t, view, "waiting")
}

func TestSinkDropsWhenFull(t *testing.T) {
	sink := NewSink(1)
	sink.Emit(framework.Event{Type: framework.EventRunStart})
	sink.Emit(framework.Event{Type: framework.EventRunFinish})

	msg := listen(sink.ch)()
	got, ok := msg.(EventMsg)
	require.True(t, ok)
	assert.Equal(t, framework.EventRunStart, got.Event.Type)
	assert.Empty(t, sink.ch)
}

func TestListenNilChannel(t *testing.T) {
	assert.Nil(t, listen(nil))
}
