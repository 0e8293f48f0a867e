package framework

import (
	"fmt"
	"time"
)

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepIdle      StepStatus = "idle"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepValidation summarises the validation of a step's committed output.
type StepValidation struct {
	Score       int      `json:"score"`
	IsValid     bool     `json:"is_valid"`
	Critical    []string `json:"critical,omitempty"`
	Advisory    []string `json:"advisory,omitempty"`
	Corrections int      `json:"corrections,omitempty"`
	// Outcome is the terminal correction state when correction ran.
	Outcome string `json:"outcome,omitempty"`
}

// WorkflowStep records one agent invocation of a run. Steps move
// idle -> running -> completed|error and are never re-entered.
type WorkflowStep struct {
	Index       int             `json:"index"`
	Agent       string          `json:"agent"`
	Role        AgentRole       `json:"role"`
	Status      StepStatus      `json:"status"`
	StartTime   time.Time       `json:"start_time,omitempty"`
	EndTime     time.Time       `json:"end_time,omitempty"`
	Output      string          `json:"output,omitempty"`
	Files       []string        `json:"files,omitempty"`
	CacheHit    bool            `json:"cache_hit,omitempty"`
	Context     []string        `json:"context,omitempty"`
	Validation  *StepValidation `json:"validation,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	// Warning carries a non-fatal outcome such as a ValidationFailure.
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TransitionStepError rejects a step state change outside the lifecycle.
type TransitionStepError struct {
	Agent string
	From  StepStatus
	To    StepStatus
}

func (e *TransitionStepError) Error() string {
	return fmt.Sprintf("step %s cannot move from %s to %s", e.Agent, e.From, e.To)
}

// Start moves the step from idle to running.
func (s *WorkflowStep) Start(now time.Time) error {
	if s.Status != StepIdle {
		return &TransitionStepError{Agent: s.Agent, From: s.Status, To: StepRunning}
	}
	s.Status = StepRunning
	s.StartTime = now
	return nil
}

// Complete moves the step from running to completed.
func (s *WorkflowStep) Complete(now time.Time, output string) error {
	if s.Status != StepRunning {
		return &TransitionStepError{Agent: s.Agent, From: s.Status, To: StepCompleted}
	}
	s.Status = StepCompleted
	s.EndTime = now
	s.Output = output
	return nil
}

// Fail moves the step from running to error.
func (s *WorkflowStep) Fail(now time.Time, err error) error {
	if s.Status != StepRunning {
		return &TransitionStepError{Agent: s.Agent, From: s.Status, To: StepError}
	}
	s.Status = StepError
	s.EndTime = now
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

// Duration is the wall time of a finished step.
func (s WorkflowStep) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// RunFailure is the structured terminal failure of a run.
type RunFailure struct {
	Agent string `json:"agent"`
	Index int    `json:"index"`
	Error string `json:"error"`
	Hint  string `json:"hint"`
}

// Run is one execution of a workflow. It is passed explicitly through the
// pipeline and persisted as a snapshot.
type Run struct {
	ID         string         `json:"id"`
	Request    string         `json:"request"`
	Agents     []string       `json:"agents"`
	Steps      []WorkflowStep `json:"steps"`
	Status     RunStatus      `json:"status"`
	Failure    *RunFailure    `json:"failure,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone returns a deep enough copy for snapshotting.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Agents = append([]string(nil), r.Agents...)
	out.Steps = make([]WorkflowStep, len(r.Steps))
	for i, s := range r.Steps {
		s.Files = append([]string(nil), s.Files...)
		s.Context = append([]string(nil), s.Context...)
		s.Suggestions = append([]string(nil), s.Suggestions...)
		if s.Validation != nil {
			v := *s.Validation
			s.Validation = &v
		}
		out.Steps[i] = s
	}
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	return &out
}

// LastCompleted returns the most recent completed step, if any.
func (r *Run) LastCompleted() (WorkflowStep, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Status == StepCompleted {
			return r.Steps[i], true
		}
	}
	return WorkflowStep{}, false
}
