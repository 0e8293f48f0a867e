package monitor

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/codeforge/framework"
)

// EventMsg carries one telemetry event into the Bubble Tea loop.
type EventMsg struct {
	Event framework.Event
}

// DoneMsg reports the end of the monitored run.
type DoneMsg struct {
	Run *framework.Run
	Err error
}

// Sink is a telemetry sink feeding the monitor. Events are dropped when the
// buffer is full so a slow terminal never stalls the workflow.
type Sink struct {
	ch chan tea.Msg
}

// NewSink returns a sink with room for size pending events.
func NewSink(size int) *Sink {
	if size <= 0 {
		size = 256
	}
	return &Sink{ch: make(chan tea.Msg, size)}
}

// Emit queues event for the monitor.
func (s *Sink) Emit(event framework.Event) {
	select {
	case s.ch <- EventMsg{Event: event}:
	default:
	}
}

// listen waits for the next queued message.
func listen(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
