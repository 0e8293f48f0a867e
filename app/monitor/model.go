// Package monitor renders a live terminal view of a workflow run from its
// telemetry events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/codeforge/framework"
)

const maxLogLines = 200

// StepView is the monitor's picture of one workflow step.
type StepView struct {
	Agent       string
	Role        string
	Status      framework.StepStatus
	Score       int
	Scored      bool
	Corrections int
	CacheHit    bool
	Files       int
	Elapsed     time.Duration
	Note        string
}

// Stats aggregates counters shown in the status bar.
type Stats struct {
	LLMCalls    int
	Retries     int
	CacheHits   int
	Suggestions int
}

// Model implements tea.Model for one run.
type Model struct {
	request string
	runID   string
	steps   []StepView
	current int
	stats   Stats

	log     viewport.Model
	lines   []string
	spinner spinner.Model

	width  int
	height int
	ready  bool

	done bool
	run  *framework.Run
	err  error

	events <-chan tea.Msg
}

// NewModel prepares a monitor for a run of agents over request. Events are
// read from sink; a nil sink yields a model driven only by Update calls.
func NewModel(request string, agents []string, sink *Sink) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	m := Model{
		request: request,
		current: -1,
		spinner: sp,
		log:     viewport.New(0, 0),
	}
	for _, a := range agents {
		m.steps = append(m.steps, StepView{Agent: a, Status: framework.StepIdle})
	}
	if sink != nil {
		m.events = sink.ch
	}
	return m
}

// Run shows the monitor while start executes the workflow. Quitting the
// monitor early cancels the run; the run's result is returned either way.
func Run(ctx context.Context, sink *Sink, request string, agents []string, start func(context.Context) (*framework.Run, error)) (*framework.Run, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	program := tea.NewProgram(NewModel(request, agents, sink), tea.WithContext(ctx))
	result := make(chan DoneMsg, 1)
	go func() {
		run, err := start(runCtx)
		done := DoneMsg{Run: run, Err: err}
		result <- done
		program.Send(done)
	}()
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-result
		return nil, fmt.Errorf("monitor: %w", err)
	}
	cancel()
	done := <-result
	return done.Run, done.Err
}

// Steps returns the current step views.
func (m Model) Steps() []StepView {
	return append([]StepView(nil), m.steps...)
}

// Stats returns the aggregated counters.
func (m Model) Stats() Stats { return m.stats }

// Done reports whether the run has finished.
func (m Model) Done() bool { return m.done }

// Init starts the spinner and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listen(m.events))
}

// Update applies incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = msg.Width
		m.log.Height = max(3, msg.Height-len(m.steps)-5)
		m.ready = true
		m.refreshLog()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(msg.Event)
		return m, listen(m.events)
	case DoneMsg:
		m.done = true
		m.run = msg.Run
		m.err = msg.Err
		if msg.Err != nil {
			m.appendLog(errorStyle.Render("run failed: " + msg.Err.Error()))
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev framework.Event) {
	if ev.RunID != "" && m.runID == "" {
		m.runID = ev.RunID
	}
	switch ev.Type {
	case framework.EventStepStart:
		idx := m.stepIndex(ev)
		m.current = idx
		s := &m.steps[idx]
		s.Status = framework.StepRunning
		if role, ok := ev.Metadata["role"].(string); ok {
			s.Role = role
		}
	case framework.EventStepFinish:
		idx := m.stepIndex(ev)
		s := &m.steps[idx]
		s.Status = framework.StepCompleted
		if score, ok := intValue(ev.Metadata, "score"); ok {
			s.Score, s.Scored = score, true
		}
		if n, ok := intValue(ev.Metadata, "files"); ok {
			s.Files = n
		}
		if n, ok := intValue(ev.Metadata, "corrections"); ok {
			s.Corrections = n
		}
		if ms, ok := intValue(ev.Metadata, "duration_ms"); ok {
			s.Elapsed = time.Duration(ms) * time.Millisecond
		}
		s.CacheHit, _ = ev.Metadata["cache_hit"].(bool)
	case framework.EventStepError:
		idx := m.stepIndex(ev)
		m.steps[idx].Status = framework.StepError
		m.steps[idx].Note = ev.Message
	case framework.EventCorrectionAttempt:
		if m.current >= 0 {
			if n, ok := intValue(ev.Metadata, "attempt"); ok {
				m.steps[m.current].Corrections = n
			}
		}
	case framework.EventValidation:
		if m.current >= 0 {
			if score, ok := intValue(ev.Metadata, "score"); ok {
				m.steps[m.current].Score, m.steps[m.current].Scored = score, true
			}
		}
	case framework.EventLLMResponse:
		m.stats.LLMCalls++
	case framework.EventProviderRetry:
		m.stats.Retries++
	case framework.EventCacheHit:
		m.stats.CacheHits++
	case framework.EventSuggestionAdded:
		m.stats.Suggestions++
	}
	if ev.Type != framework.EventLLMPrompt && ev.Type != framework.EventLLMResponse {
		m.appendLog(formatEvent(ev))
	}
}

// stepIndex finds the step an event belongs to, growing the list when the
// run has more steps than the monitor was told about.
func (m *Model) stepIndex(ev framework.Event) int {
	idx, ok := intValue(ev.Metadata, "step")
	if !ok {
		idx = m.current
		if idx < 0 {
			idx = 0
		}
	}
	for len(m.steps) <= idx {
		m.steps = append(m.steps, StepView{Status: framework.StepIdle})
	}
	if m.steps[idx].Agent == "" {
		m.steps[idx].Agent = ev.Agent
	}
	return idx
}

func (m *Model) appendLog(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	if !m.ready {
		return
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func formatEvent(ev framework.Event) string {
	var b strings.Builder
	b.WriteString(dimStyle.Render(ev.Timestamp.Local().Format("15:04:05")))
	b.WriteString(" ")
	if ev.Agent != "" {
		b.WriteString(agentStyle.Render(ev.Agent))
		b.WriteString(" ")
	}
	b.WriteString(string(ev.Type))
	if ev.Message != "" {
		b.WriteString(": ")
		b.WriteString(ev.Message)
	}
	if len(ev.Metadata) > 0 {
		keys := make([]string, 0, len(ev.Metadata))
		for k := range ev.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Metadata[k]))
		}
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(strings.Join(parts, " ")))
	}
	return b.String()
}

func intValue(meta map[string]interface{}, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
