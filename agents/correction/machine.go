// Package correction implements validation-driven self-correction. The state
// machine in this file is pure; Loop and RuntimeFixLoop drive it against a
// language model.
package correction

import (
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/validation"
)

// State of a correction run.
type State string

const (
	StateDraft      State = "draft"
	StateCorrecting State = "correcting"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// Reason explains why a run ended in StateExhausted.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNoImprovement Reason = "no_improvement"
	ReasonCeiling       Reason = "ceiling"
)

// Candidate is one version of a step's output together with its validation.
type Candidate struct {
	Text   string
	Files  []framework.ArtifactFile
	Result validation.Result
}

// Attempt records one correction round.
type Attempt struct {
	Number   int               `json:"number"`
	Prior    validation.Result `json:"prior"`
	Revised  validation.Result `json:"revised"`
	Accepted bool              `json:"accepted"`
}

// Machine is the correction state. Values are never mutated by Start or
// Advance; each transition returns a new Machine.
type Machine struct {
	State    State
	Reason   Reason
	Best     Candidate
	Attempts []Attempt
}

// Done reports whether the machine reached a terminal state.
func (m Machine) Done() bool {
	return m.State == StateAccepted || m.State == StateExhausted
}

// Start validates the draft transition. A draft without critical issues is
// accepted immediately.
func Start(draft Candidate, maxAttempts int) Machine {
	m := Machine{State: StateDraft, Best: draft}
	switch {
	case !draft.Result.HasCritical():
		m.State = StateAccepted
	case maxAttempts <= 0:
		m.State = StateExhausted
		m.Reason = ReasonCeiling
	default:
		m.State = StateCorrecting
	}
	return m
}

// Advance folds one revision into m. The revision replaces the best candidate
// only when its score is strictly higher or it has strictly fewer critical
// issues; otherwise the run ends keeping the best candidate.
func Advance(m Machine, revision Candidate, maxAttempts int) Machine {
	if m.State != StateCorrecting {
		return m
	}
	improved := revision.Result.Improves(m.Best.Result)
	next := Machine{
		State:    StateCorrecting,
		Best:     m.Best,
		Attempts: append(append([]Attempt(nil), m.Attempts...), Attempt{
			Number:   len(m.Attempts) + 1,
			Prior:    m.Best.Result,
			Revised:  revision.Result,
			Accepted: improved,
		}),
	}
	if !improved {
		next.State = StateExhausted
		next.Reason = ReasonNoImprovement
		return next
	}
	next.Best = revision
	switch {
	case !revision.Result.HasCritical():
		next.State = StateAccepted
	case len(next.Attempts) >= maxAttempts:
		next.State = StateExhausted
		next.Reason = ReasonCeiling
	}
	return next
}

// Err maps a terminal machine to the error taxonomy. Critical issues left
// after an early stop are a non-fatal *framework.ValidationFailure; critical
// issues left at the ceiling are a *framework.CorrectionExhausted.
func (m Machine) Err() error {
	if m.State != StateExhausted || !m.Best.Result.HasCritical() {
		return nil
	}
	critical := m.Best.Result.CriticalMessages()
	if m.Reason == ReasonCeiling {
		return &framework.CorrectionExhausted{Attempts: len(m.Attempts), Score: m.Best.Result.Score, Critical: critical}
	}
	return &framework.ValidationFailure{Score: m.Best.Result.Score, Critical: critical}
}
