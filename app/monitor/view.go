package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/codeforge/framework"
)

// View composes the header, the step list, the event log and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Starting workflow..."
	}
	header := headerStyle.Render("codeforge") + " " + dimStyle.Render(truncate(m.request, max(10, m.width-12)))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		stepsBoxStyle.Render(m.renderSteps()),
		m.log.View(),
		m.renderStatus(),
	)
}

func (m Model) renderSteps() string {
	if len(m.steps) == 0 {
		return dimStyle.Render("no steps")
	}
	width := 0
	for _, s := range m.steps {
		width = max(width, len(s.Agent))
	}
	lines := make([]string, 0, len(m.steps))
	for _, s := range m.steps {
		lines = append(lines, m.renderStep(s, width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStep(s StepView, width int) string {
	var icon string
	switch s.Status {
	case framework.StepCompleted:
		icon = completedStyle.Render("✓")
	case framework.StepRunning:
		icon = runningStyle.Render(m.spinner.View())
	case framework.StepError:
		icon = errorStyle.Render("✗")
	default:
		icon = dimStyle.Render("·")
	}
	parts := []string{icon, agentStyle.Render(fmt.Sprintf("%-*s", width, s.Agent))}
	if s.Role != "" {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%-9s", s.Role)))
	}
	switch s.Status {
	case framework.StepIdle:
		parts = append(parts, dimStyle.Render("waiting"))
	case framework.StepError:
		parts = append(parts, errorStyle.Render(truncate(s.Note, 60)))
	default:
		if s.Scored {
			parts = append(parts, scoreStyle(s.Score).Render(fmt.Sprintf("score %d", s.Score)))
		}
		if s.Corrections > 0 {
			parts = append(parts, fmt.Sprintf("corrections %d", s.Corrections))
		}
		if s.Files > 0 {
			parts = append(parts, fmt.Sprintf("%d file(s)", s.Files))
		}
		if s.CacheHit {
			parts = append(parts, dimStyle.Render("cached"))
		}
		if s.Elapsed > 0 {
			parts = append(parts, dimStyle.Render(formatDuration(s.Elapsed)))
		}
	}
	return strings.Join(parts, "  ")
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return completedStyle
	case score >= 50:
		return runningStyle
	}
	return errorStyle
}

func (m Model) renderStatus() string {
	left := "run " + m.runID
	if m.runID == "" {
		left = "run pending"
	}
	if m.done {
		if m.err != nil {
			left += " | failed"
		} else {
			left += " | completed"
		}
	}
	right := fmt.Sprintf("llm %d | retries %d | cache hits %d | suggestions %d | q to quit",
		m.stats.LLMCalls, m.stats.Retries, m.stats.CacheHits, m.stats.Suggestions)
	padding := max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)
	return statusStyle.Render(left + strings.Repeat(" ", padding) + right)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:1]
	}
	return s[:n-1] + "…"
}
