package validation

import "fmt"

// Category separates blocking structural problems from quality hints.
type Category string

const (
	Critical Category = "critical"
	Advisory Category = "advisory"
)

// PassingScore is the minimum score for an artifact to count as valid.
const PassingScore = 50

// Issue is a single triggered finding.
type Issue struct {
	Rule     string   `json:"rule"`
	Category Category `json:"category"`
	File     string   `json:"file,omitempty"`
	Message  string   `json:"message"`
}

// String renders the issue the way it is shown to models and users.
func (i Issue) String() string {
	if i.File == "" {
		return fmt.Sprintf("[%s] %s", i.Rule, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Rule, i.File, i.Message)
}

// Result is the outcome of one validation pass. A Result is built fresh for
// every call and never mutated afterwards.
type Result struct {
	IsValid        bool     `json:"is_valid"`
	Score          int      `json:"score"`
	Issues         []Issue  `json:"issues,omitempty"`
	CriticalIssues []Issue  `json:"critical_issues,omitempty"`
	Triggered      []string `json:"triggered,omitempty"`
}

func newResult(score int, advisory, critical []Issue, triggered []string) Result {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Result{
		IsValid:        score >= PassingScore && len(critical) == 0,
		Score:          score,
		Issues:         advisory,
		CriticalIssues: critical,
		Triggered:      triggered,
	}
}

// HasCritical reports whether any critical issue was found.
func (r Result) HasCritical() bool { return len(r.CriticalIssues) > 0 }

// Improves reports whether r is strictly better than prior: a higher score or
// fewer critical issues.
func (r Result) Improves(prior Result) bool {
	return r.Score > prior.Score || len(r.CriticalIssues) < len(prior.CriticalIssues)
}

// CriticalMessages renders critical issues as strings.
func (r Result) CriticalMessages() []string { return render(r.CriticalIssues) }

// AdvisoryMessages renders advisory issues as strings.
func (r Result) AdvisoryMessages() []string { return render(r.Issues) }

func render(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}
