package framework

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SuggestionType classifies a change proposal.
type SuggestionType string

const (
	SuggestionFix         SuggestionType = "fix"
	SuggestionIssue       SuggestionType = "issue"
	SuggestionImprovement SuggestionType = "improvement"
)

// SuggestionPriority ranks proposals for review.
type SuggestionPriority string

const (
	PriorityHigh   SuggestionPriority = "high"
	PriorityMedium SuggestionPriority = "medium"
	PriorityLow    SuggestionPriority = "low"
)

// SuggestionStatus tracks review of a proposal. Pending suggestions move to
// approved or rejected; approved ones become applied once written into the
// artifact.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionApplied  SuggestionStatus = "applied"
)

// SuggestedChange is a full-content replacement for one file. Diff is a
// unified patch against the file as it was when the suggestion was made.
type SuggestedChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

// Suggestion is an approvable change proposal extracted from a critique.
type Suggestion struct {
	ID               string             `json:"id"`
	RunID            string             `json:"run_id,omitempty"`
	Agent            string             `json:"agent"`
	Type             SuggestionType     `json:"type"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	AffectedFiles    []string           `json:"affected_files,omitempty"`
	SuggestedChanges []SuggestedChange  `json:"suggested_changes,omitempty"`
	Priority         SuggestionPriority `json:"priority"`
	Status           SuggestionStatus   `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
}

// ErrSuggestionNotFound is returned by stores for unknown IDs.
var ErrSuggestionNotFound = errors.New("suggestion not found")

// TransitionError rejects a status change the lifecycle does not allow.
type TransitionError struct {
	ID   string
	From SuggestionStatus
	To   SuggestionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("suggestion %s cannot move from %s to %s", e.ID, e.From, e.To)
}

// CanTransition reports whether a suggestion may move from one status to
// another.
func CanTransition(from, to SuggestionStatus) bool {
	switch from {
	case SuggestionPending:
		return to == SuggestionApproved || to == SuggestionRejected || to == SuggestionApplied
	case SuggestionApproved:
		return to == SuggestionApplied
	}
	return false
}

// SuggestionFilter narrows List results. Zero fields match everything.
type SuggestionFilter struct {
	RunID  string
	Agent  string
	Status SuggestionStatus
}

// Matches reports whether s passes the filter.
func (f SuggestionFilter) Matches(s Suggestion) bool {
	return (f.RunID == "" || f.RunID == s.RunID) &&
		(f.Agent == "" || f.Agent == s.Agent) &&
		(f.Status == "" || f.Status == s.Status)
}

// SuggestionStore persists suggestions and their review state.
type SuggestionStore interface {
	Add(ctx context.Context, s Suggestion) error
	Get(ctx context.Context, id string) (Suggestion, error)
	List(ctx context.Context, filter SuggestionFilter) ([]Suggestion, error)
	SetStatus(ctx context.Context, id string, status SuggestionStatus) (Suggestion, error)
}

// Approve marks a pending suggestion approved.
func Approve(ctx context.Context, store SuggestionStore, id string) (Suggestion, error) {
	return store.SetStatus(ctx, id, SuggestionApproved)
}

// Reject marks a pending suggestion rejected.
func Reject(ctx context.Context, store SuggestionStore, id string) (Suggestion, error) {
	return store.SetStatus(ctx, id, SuggestionRejected)
}
