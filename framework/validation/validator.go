// Package validation scores generated artifacts against a declarative rule
// table. Checks are pure functions of their input: the same files, mode and
// agent output always yield the same result.
package validation

import (
	"fmt"
	"sort"

	"github.com/lexcodex/codeforge/framework"
)

// Mode is the deployment target that lifecycle-directive checks key off.
type Mode string

const (
	// ModeServer targets server-rendered components where interactive
	// modules must opt into the client.
	ModeServer Mode = "server"
	// ModeStatic targets a static export with no server runtime.
	ModeStatic Mode = "static"
)

// ParseMode maps configuration strings to a Mode, defaulting to server.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeServer:
		return ModeServer, nil
	case ModeStatic:
		return ModeStatic, nil
	}
	return "", fmt.Errorf("unknown validation mode %q", s)
}

// Input is everything a validation pass may look at.
type Input struct {
	Files []framework.ArtifactFile
	Mode  Mode
	// Role and Output enable agent output-shape checks.
	Role   framework.AgentRole
	Output string
	// Focus restricts reported findings to these paths. The full file set is
	// still used to resolve imports. Nil means every file; an empty non-nil
	// slice reports no file findings at all.
	Focus []string
}

// Override adjusts one rule from configuration.
type Override struct {
	Disabled bool `yaml:"disabled" json:"disabled"`
	Weight   *int `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// Validator applies a rule table.
type Validator struct {
	rules []Rule
}

// Option customises a Validator.
type Option func(*Validator)

// WithRules replaces the rule table.
func WithRules(rules ...Rule) Option {
	return func(v *Validator) {
		v.rules = append([]Rule(nil), rules...)
	}
}

// WithOverrides disables or re-weights rules by ID. Unknown IDs are ignored.
func WithOverrides(overrides map[string]Override) Option {
	return func(v *Validator) {
		kept := v.rules[:0:0]
		for _, r := range v.rules {
			o, ok := overrides[r.ID]
			if ok && o.Disabled {
				continue
			}
			if ok && o.Weight != nil && *o.Weight >= 0 {
				r.Weight = *o.Weight
			}
			kept = append(kept, r)
		}
		v.rules = kept
	}
}

// New builds a Validator over DefaultRules, then applies opts in order.
func New(opts ...Option) *Validator {
	v := &Validator{rules: DefaultRules()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rules returns a copy of the active rule table.
func (v *Validator) Rules() []Rule {
	return append([]Rule(nil), v.rules...)
}

// Check runs every rule against in.
func (v *Validator) Check(in Input) Result {
	analysis := Analyze(in)
	score := 100
	var (
		advisory  []Issue
		critical  []Issue
		triggered []string
	)
	for _, rule := range v.rules {
		findings := rule.Check(analysis)
		if len(findings) == 0 {
			continue
		}
		score -= rule.Weight
		triggered = append(triggered, rule.ID)
		for _, f := range findings {
			issue := Issue{Rule: rule.ID, Category: rule.Category, File: f.File, Message: f.Message}
			if rule.Category == Critical {
				critical = append(critical, issue)
			} else {
				advisory = append(advisory, issue)
			}
		}
	}
	sortIssues(advisory)
	sortIssues(critical)
	return newResult(score, advisory, critical, triggered)
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		return issues[i].Message < issues[j].Message
	})
}

var defaultValidator = New()

// Validate checks files with the canonical rule table.
func Validate(files []framework.ArtifactFile, mode Mode) Result {
	return defaultValidator.Check(Input{Files: files, Mode: mode})
}
