package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/codeforge/agents/correction"
	"github.com/lexcodex/codeforge/agents/suggest"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/fileparse"
	"github.com/lexcodex/codeforge/framework/validation"
	"github.com/lexcodex/codeforge/llm"
	"github.com/lexcodex/codeforge/persistence"
)

// DefaultMaxContextChars is the context budget when none is configured.
const DefaultMaxContextChars = 24000

// RunRequest starts a workflow run. Agents defaults to the catalog workflow.
type RunRequest struct {
	ID      string   `json:"id,omitempty"`
	Request string   `json:"request"`
	Agents  []string `json:"agents,omitempty"`
}

// Executor sequences agent steps over one artifact store. Steps run strictly
// one after another: step n+1 reads the artifact only after step n has
// written it back. One run may be in flight per store.
type Executor struct {
	Model   framework.LanguageModel
	Options *framework.LLMOptions
	Catalog *Catalog
	Store   framework.ArtifactStore

	// Optional collaborators; nil disables the feature.
	Cache       *persistence.ResponseCache
	Suggestions framework.SuggestionStore
	Runs        persistence.RunStore
	Transcripts persistence.TranscriptStore
	Telemetry   framework.Telemetry

	Validator          *validation.Validator
	Mode               validation.Mode
	MaxContextChars    int
	MaxCorrections     int
	RuntimeMaxAttempts int
	// ContinueOnExhausted keeps going after a correction ceiling with
	// critical issues left instead of aborting the run.
	ContinueOnExhausted bool
	Retry               llm.RetryPolicy
	Extractor           suggest.Extractor
	Logger              *slog.Logger

	NewID func() string
	Now   func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Executor) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) catalog() *Catalog {
	if e.Catalog == nil {
		e.Catalog = DefaultCatalog()
	}
	return e.Catalog
}

func (e *Executor) validator() *validation.Validator {
	if e.Validator == nil {
		e.Validator = validation.New()
	}
	return e.Validator
}

// model wraps the configured client with retries on recoverable provider
// errors. Each attempt is instrumented separately.
func (e *Executor) model() framework.LanguageModel {
	policy := e.Retry
	if policy.Telemetry == nil {
		policy.Telemetry = e.Telemetry
	}
	return llm.Wrap(e.Model, llm.Retry(policy), llm.Instrument(e.Telemetry, false))
}

func (e *Executor) maxContext() int {
	if e.MaxContextChars <= 0 {
		return DefaultMaxContextChars
	}
	return e.MaxContextChars
}

// Run executes the workflow for req. The returned run is always non-nil once
// the request is accepted; on a step failure it carries the failure and the
// error is a *framework.StepFailure. The artifact keeps the files of every
// step committed before the failure.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*framework.Run, error) {
	if e.Model == nil || e.Store == nil {
		return nil, errors.New("executor requires a model and an artifact store")
	}
	request := strings.TrimSpace(req.Request)
	if request == "" {
		return nil, errors.New("request is empty")
	}
	ids := req.Agents
	if len(ids) == 0 {
		ids = e.catalog().Workflow()
	}
	specs, err := e.catalog().Resolve(ids)
	if err != nil {
		return nil, err
	}
	run := &framework.Run{
		ID:        req.ID,
		Request:   request,
		Agents:    append([]string(nil), ids...),
		Status:    framework.RunRunning,
		StartedAt: e.now(),
	}
	if run.ID == "" {
		run.ID = e.newID()
	}
	for i, spec := range specs {
		run.Steps = append(run.Steps, framework.WorkflowStep{Index: i, Agent: spec.ID, Role: spec.Role, Status: framework.StepIdle})
	}
	e.emit(run, "", framework.EventRunStart, "run started", map[string]interface{}{"agents": run.Agents})
	e.snapshot(ctx, run)

	model := e.model()
	var prev *framework.WorkflowStep
	for i, spec := range specs {
		step := &run.Steps[i]
		if err := e.runStep(ctx, model, run, step, spec, prev); err != nil {
			return e.fail(ctx, run, step, err)
		}
		prev = step
	}
	run.Status = framework.RunCompleted
	run.FinishedAt = e.now()
	e.emit(run, "", framework.EventRunFinish, "run completed", map[string]interface{}{
		"steps":       len(run.Steps),
		"duration_ms": run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	})
	e.snapshot(ctx, run)
	return run, nil
}

func (e *Executor) fail(ctx context.Context, run *framework.Run, step *framework.WorkflowStep, err error) (*framework.Run, error) {
	now := e.now()
	if step.Status == framework.StepRunning {
		_ = step.Fail(now, err)
	}
	hint := framework.RemediationHint(err)
	run.Status = framework.RunFailed
	run.FinishedAt = now
	run.Failure = &framework.RunFailure{Agent: step.Agent, Index: step.Index, Error: err.Error(), Hint: hint}
	e.emit(run, step.Agent, framework.EventStepError, err.Error(), map[string]interface{}{"step": step.Index})
	e.emit(run, step.Agent, framework.EventRunError, "run failed", map[string]interface{}{"hint": hint})
	// Persist with a fresh context so a cancelled run still records why.
	e.snapshot(context.WithoutCancel(ctx), run)
	return run, &framework.StepFailure{Agent: step.Agent, Index: step.Index, Err: err, Hint: hint}
}

// stepResult is what a step commits.
type stepResult struct {
	text         string
	files        []framework.ArtifactFile
	result       validation.Result
	conversation []framework.Message
	cacheHit     bool
	corrections  int
	outcome      string
	warning      string
}

func (e *Executor) runStep(ctx context.Context, model framework.LanguageModel, run *framework.Run, step *framework.WorkflowStep, spec AgentSpec, prev *framework.WorkflowStep) error {
	if err := step.Start(e.now()); err != nil {
		return err
	}
	e.emit(run, spec.ID, framework.EventStepStart, "step started", map[string]interface{}{"step": step.Index, "role": string(spec.Role)})
	e.snapshot(ctx, run)

	files, err := e.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	selection := framework.SelectContext(files, run.Request, e.maxContext())
	step.Context = selection.Paths()
	e.emit(run, spec.ID, framework.EventContextSelected, "context selected", map[string]interface{}{
		"included":    len(selection.Included),
		"dropped":     len(selection.Dropped),
		"total_chars": selection.TotalChars,
		"truncated":   selection.Truncated,
	})

	prior := ""
	if prev != nil {
		prior = FramePriorOutput(*prev, spec.Role)
	}
	conversation := BuildConversation(spec, selection, prior, run.Request)
	scoped := llm.WithRunScope(ctx, llm.RunScope{RunID: run.ID, Agent: spec.ID})

	res, err := e.produce(scoped, model, run, spec, files, selection, prior, conversation)
	if err != nil {
		return err
	}

	for _, f := range res.files {
		if err := e.Store.Upsert(ctx, f.Path, f.Content, f.Language); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	if len(res.files) > 0 {
		step.Files = framework.SortedPaths(res.files)
		e.emit(run, spec.ID, framework.EventArtifactUpdated, "artifact updated", map[string]interface{}{"files": step.Files})
	}

	if spec.Role.Critiques() {
		current := framework.MergeFiles(files, res.files)
		step.Suggestions = e.registerSuggestions(ctx, run, spec, res.text, current)
	}

	step.CacheHit = res.cacheHit
	step.Warning = res.warning
	step.Validation = &framework.StepValidation{
		Score:       res.result.Score,
		IsValid:     res.result.IsValid,
		Critical:    res.result.CriticalMessages(),
		Advisory:    res.result.AdvisoryMessages(),
		Corrections: res.corrections,
		Outcome:     res.outcome,
	}
	e.recordTranscript(ctx, run, step, res.conversation)
	if err := step.Complete(e.now(), res.text); err != nil {
		return err
	}
	e.emit(run, spec.ID, framework.EventStepFinish, "step completed", map[string]interface{}{
		"step":        step.Index,
		"score":       res.result.Score,
		"files":       len(res.files),
		"cache_hit":   res.cacheHit,
		"corrections": res.corrections,
		"duration_ms": step.Duration().Milliseconds(),
	})
	e.snapshot(ctx, run)
	return nil
}

// produce obtains, parses, validates and if needed corrects the output of
// one step. Nothing is written to the artifact here.
func (e *Executor) produce(ctx context.Context, model framework.LanguageModel, run *framework.Run, spec AgentSpec, files []framework.ArtifactFile, selection framework.ContextSelection, prior string, conversation []framework.Message) (stepResult, error) {
	opts := spec.Options(e.Options)
	var (
		res      stepResult
		cacheKey string
	)
	useCache := e.Cache != nil && !spec.Role.ProducesFiles()
	if useCache {
		cacheKey = persistence.CacheKey(spec.ID, run.Request, selection.Render()+prior)
		if entry, ok := e.Cache.Get(cacheKey); ok {
			e.emit(run, spec.ID, framework.EventCacheHit, "cache hit", nil)
			res.text = entry.Text
			res.files = entry.Files
			res.cacheHit = true
		} else {
			e.emit(run, spec.ID, framework.EventCacheMiss, "cache miss", nil)
		}
	}

	if !res.cacheHit {
		resp, err := model.Chat(ctx, conversation, opts)
		if err != nil {
			return res, err
		}
		res.text = resp.Text
		conversation = append(conversation, framework.Message{Role: framework.RoleAssistant, Content: resp.Text})
		if spec.Role.ProducesFiles() {
			res.files = fileparse.Parse(res.text)
			if len(res.files) == 0 {
				e.emit(run, spec.ID, framework.EventParse, "no file blocks, re-prompting", map[string]interface{}{"strict": true})
				conversation = append(conversation, framework.Message{Role: framework.RoleUser, Content: strictFilesPrompt})
				resp, err = model.Chat(ctx, conversation, opts)
				if err != nil {
					return res, err
				}
				res.text = resp.Text
				conversation = append(conversation, framework.Message{Role: framework.RoleAssistant, Content: resp.Text})
				res.files = fileparse.Parse(res.text)
				if len(res.files) == 0 {
					return res, framework.ErrParseFailure
				}
			}
			e.emit(run, spec.ID, framework.EventParse, "parsed file blocks", map[string]interface{}{"files": framework.SortedPaths(res.files)})
		}
	}
	res.conversation = conversation

	eval := correction.Evaluator{Validator: e.validator(), Mode: e.Mode, Role: spec.Role, Base: files}
	draft := correction.Candidate{Text: res.text, Files: res.files, Result: eval.Check(res.text, res.files)}
	e.emitValidation(run, spec.ID, draft.Result)
	res.result = draft.Result

	if draft.Result.HasCritical() {
		loop := correction.Loop{
			Model:       model,
			Options:     opts,
			Evaluator:   eval,
			MaxAttempts: e.MaxCorrections,
			Telemetry:   e.Telemetry,
			RunID:       run.ID,
			Agent:       spec.ID,
		}
		out, err := loop.Run(ctx, conversation, draft)
		if err != nil {
			return res, err
		}
		res.text = out.Best.Text
		res.files = out.Best.Files
		res.result = out.Best.Result
		res.conversation = out.Conversation
		res.corrections = len(out.Attempts)
		res.outcome = string(out.State)
		if out.Reason != correction.ReasonNone {
			res.outcome += ":" + string(out.Reason)
		}
		if cerr := out.Err(); cerr != nil {
			var exhausted *framework.CorrectionExhausted
			if errors.As(cerr, &exhausted) && !e.ContinueOnExhausted {
				return res, cerr
			}
			res.warning = cerr.Error()
		}
		if res.corrections > 0 {
			e.emitValidation(run, spec.ID, res.result)
		}
	}

	if useCache && !res.cacheHit {
		if err := e.Cache.Put(cacheKey, res.text, res.files); err != nil {
			e.logger().Warn("cache put failed", "agent", spec.ID, "error", err)
		}
	}
	return res, nil
}

func (e *Executor) registerSuggestions(ctx context.Context, run *framework.Run, spec AgentSpec, text string, current []framework.ArtifactFile) []string {
	found := e.Extractor.Extract(text, spec.ID, current)
	ids := make([]string, 0, len(found))
	for _, s := range found {
		s.RunID = run.ID
		if e.Suggestions != nil {
			if err := e.Suggestions.Add(ctx, s); err != nil {
				e.logger().Warn("store suggestion failed", "run", run.ID, "agent", spec.ID, "error", err)
				continue
			}
		}
		ids = append(ids, s.ID)
		e.emit(run, spec.ID, framework.EventSuggestionAdded, s.Title, map[string]interface{}{
			"id":       s.ID,
			"type":     string(s.Type),
			"priority": string(s.Priority),
		})
	}
	return ids
}

func (e *Executor) recordTranscript(ctx context.Context, run *framework.Run, step *framework.WorkflowStep, conversation []framework.Message) {
	if e.Transcripts == nil || len(conversation) == 0 {
		return
	}
	at := e.now()
	entries := make([]persistence.TranscriptEntry, 0, len(conversation))
	for _, msg := range conversation {
		entries = append(entries, persistence.TranscriptEntry{Step: step.Index, Agent: step.Agent, Message: msg, At: at})
	}
	if err := e.Transcripts.Append(ctx, run.ID, entries...); err != nil {
		e.logger().Warn("append transcript failed", "run", run.ID, "error", err)
	}
}

func (e *Executor) snapshot(ctx context.Context, run *framework.Run) {
	if e.Runs == nil {
		return
	}
	if err := e.Runs.Save(ctx, run); err != nil {
		e.logger().Warn("save run snapshot failed", "run", run.ID, "error", err)
	}
}

func (e *Executor) emitValidation(run *framework.Run, agent string, res validation.Result) {
	e.emit(run, agent, framework.EventValidation, "validated", map[string]interface{}{
		"score":    res.Score,
		"valid":    res.IsValid,
		"critical": len(res.CriticalIssues),
		"advisory": len(res.Issues),
	})
}

func (e *Executor) emit(run *framework.Run, agent string, kind framework.EventType, msg string, meta map[string]interface{}) {
	framework.Emit(e.Telemetry, framework.Event{
		Type:     kind,
		RunID:    run.ID,
		Agent:    agent,
		Message:  msg,
		Metadata: meta,
	})
}
