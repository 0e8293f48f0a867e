package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexcodex/codeforge/agents/correction"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/llm"
)

// ErrNothingToApply rejects applying a suggestion without file content.
var ErrNothingToApply = errors.New("suggestion carries no file changes")

// ApplySuggestion writes the full-content changes of suggestion id into the
// artifact and marks it applied. Only pending or approved suggestions can be
// applied.
func (e *Executor) ApplySuggestion(ctx context.Context, id string) (framework.Suggestion, error) {
	if e.Suggestions == nil {
		return framework.Suggestion{}, errors.New("no suggestion store configured")
	}
	sug, err := e.Suggestions.Get(ctx, id)
	if err != nil {
		return framework.Suggestion{}, err
	}
	if !framework.CanTransition(sug.Status, framework.SuggestionApplied) {
		return sug, &framework.TransitionError{ID: id, From: sug.Status, To: framework.SuggestionApplied}
	}
	if len(sug.SuggestedChanges) == 0 {
		return sug, ErrNothingToApply
	}
	var paths []string
	for _, change := range sug.SuggestedChanges {
		p := framework.NormalizePath(change.Path)
		if p == "" {
			return sug, &framework.InvalidPathError{Path: change.Path}
		}
		if err := e.Store.Upsert(ctx, p, change.Content, framework.DetectLanguage(p)); err != nil {
			return sug, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	applied, err := e.Suggestions.SetStatus(ctx, id, framework.SuggestionApplied)
	if err != nil {
		return sug, err
	}
	framework.Emit(e.Telemetry, framework.Event{
		Type:     framework.EventArtifactUpdated,
		RunID:    sug.RunID,
		Agent:    sug.Agent,
		Message:  "suggestion applied",
		Metadata: map[string]interface{}{"suggestion": id, "files": paths},
	})
	return applied, nil
}

// FixRuntimeFailure asks the implementation agent to repair the live
// artifact against a reported runtime failure and writes back the files of
// an accepted revision.
func (e *Executor) FixRuntimeFailure(ctx context.Context, failure string) (correction.RuntimeOutcome, error) {
	if strings.TrimSpace(failure) == "" {
		return correction.RuntimeOutcome{}, correction.ErrEmptyFailure
	}
	if e.Model == nil || e.Store == nil {
		return correction.RuntimeOutcome{}, errors.New("executor requires a model and an artifact store")
	}
	files, err := e.Store.List(ctx)
	if err != nil {
		return correction.RuntimeOutcome{}, fmt.Errorf("read artifact: %w", err)
	}
	if len(files) == 0 {
		return correction.RuntimeOutcome{}, errors.New("artifact is empty; run a workflow first")
	}
	spec := e.implementer()
	conversation := []framework.Message{{Role: framework.RoleSystem, Content: spec.Instructions}}
	loop := correction.RuntimeFixLoop{
		Model:       e.model(),
		Options:     spec.Options(e.Options),
		Validator:   e.validator(),
		Mode:        e.Mode,
		MaxAttempts: e.RuntimeMaxAttempts,
		Telemetry:   e.Telemetry,
		Agent:       spec.ID,
	}
	ctx = llm.WithRunScope(ctx, llm.RunScope{Agent: spec.ID})
	out, err := loop.Run(ctx, conversation, files, failure)
	if err != nil {
		return out, err
	}
	if !out.Fixed {
		return out, nil
	}
	index := framework.FileIndex(out.Files)
	for _, p := range out.Changed {
		f := index[p]
		if err := e.Store.Upsert(ctx, f.Path, f.Content, f.Language); err != nil {
			return out, fmt.Errorf("write %s: %w", p, err)
		}
	}
	framework.Emit(e.Telemetry, framework.Event{
		Type:     framework.EventArtifactUpdated,
		Agent:    spec.ID,
		Message:  "runtime fix applied",
		Metadata: map[string]interface{}{"files": out.Changed},
	})
	return out, nil
}

// implementer returns the first implementation agent of the workflow, or of
// the catalog when the workflow has none.
func (e *Executor) implementer() AgentSpec {
	cat := e.catalog()
	for _, id := range cat.Workflow() {
		if spec, ok := cat.Get(id); ok && spec.Role == framework.RoleImplement {
			return spec
		}
	}
	for _, spec := range cat.List() {
		if spec.Role == framework.RoleImplement {
			return spec
		}
	}
	return AgentSpec{ID: "coder", Role: framework.RoleImplement}
}
