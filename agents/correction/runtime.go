package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/fileparse"
	"github.com/lexcodex/codeforge/framework/validation"
)

// DefaultRuntimeMaxAttempts bounds runtime fix rounds when none is configured.
const DefaultRuntimeMaxAttempts = 2

// ErrEmptyFailure rejects a runtime fix request without a failure description.
var ErrEmptyFailure = errors.New("runtime failure description is empty")

// RuntimeFixLoop repairs an artifact against an externally reported runtime
// failure. Unlike Loop it has no validator signal for the failure itself, so
// it stops at the first acceptable revision and re-prompts only after a
// rejected one.
type RuntimeFixLoop struct {
	Model       framework.LanguageModel
	Options     *framework.LLMOptions
	Validator   *validation.Validator
	Mode        validation.Mode
	MaxAttempts int
	Telemetry   framework.Telemetry
	RunID       string
	Agent       string
}

// RuntimeAttempt records one runtime fix round.
type RuntimeAttempt struct {
	Number   int               `json:"number"`
	Prior    validation.Result `json:"prior"`
	Revised  validation.Result `json:"revised"`
	Changed  []string          `json:"changed,omitempty"`
	Accepted bool              `json:"accepted"`
	Rejected string            `json:"rejected,omitempty"`
}

// RuntimeOutcome is the result of RuntimeFixLoop.Run. Files holds the whole
// artifact after the accepted revision, or the input files when no revision
// was accepted. Changed lists paths the accepted revision touched.
type RuntimeOutcome struct {
	Fixed        bool
	Files        []framework.ArtifactFile
	Changed      []string
	Result       validation.Result
	Attempts     []RuntimeAttempt
	Conversation []framework.Message
}

func (l *RuntimeFixLoop) maxAttempts() int {
	if l.MaxAttempts <= 0 {
		return DefaultRuntimeMaxAttempts
	}
	return l.MaxAttempts
}

func (l *RuntimeFixLoop) check(files []framework.ArtifactFile) validation.Result {
	v := l.Validator
	if v == nil {
		v = validation.New()
	}
	return v.Check(validation.Input{Files: files, Mode: l.Mode})
}

// Run asks the model to fix failure in files. conversation may carry earlier
// turns that give the model useful background; it is not modified.
func (l *RuntimeFixLoop) Run(ctx context.Context, conversation []framework.Message, files []framework.ArtifactFile, failure string) (RuntimeOutcome, error) {
	if strings.TrimSpace(failure) == "" {
		return RuntimeOutcome{}, ErrEmptyFailure
	}
	if l.Model == nil {
		return RuntimeOutcome{}, fmt.Errorf("runtime fix loop missing model")
	}
	current := framework.MergeFiles(nil, files)
	out := RuntimeOutcome{
		Files:        current,
		Result:       l.check(current),
		Conversation: framework.CloneMessages(conversation),
	}
	rejected := ""
	for n := 1; n <= l.maxAttempts(); n++ {
		request := append(framework.CloneMessages(out.Conversation), framework.Message{
			Role:    framework.RoleUser,
			Content: RuntimePrompt(failure, current, rejected),
		})
		resp, err := l.Model.Chat(ctx, request, l.Options)
		if err != nil {
			return out, fmt.Errorf("runtime fix attempt %d: %w", n, err)
		}
		revised := fileparse.Parse(resp.Text)
		merged := framework.MergeFiles(current, revised)
		changed := changedPaths(current, revised)
		attempt := RuntimeAttempt{Number: n, Prior: out.Result, Changed: changed}
		attempt.Revised = l.check(merged)
		attempt.Accepted, attempt.Rejected = acceptRuntimeFix(out.Result, attempt.Revised, len(changed) > 0)
		out.Attempts = append(out.Attempts, attempt)
		framework.Emit(l.Telemetry, framework.Event{
			Type:    framework.EventRuntimeFixAttempt,
			RunID:   l.RunID,
			Agent:   l.Agent,
			Message: attempt.Rejected,
			Metadata: map[string]interface{}{
				"attempt":  n,
				"score":    attempt.Revised.Score,
				"critical": len(attempt.Revised.CriticalIssues),
				"changed":  len(changed),
				"accepted": attempt.Accepted,
			},
		})
		if attempt.Accepted {
			out.Fixed = true
			out.Files = merged
			out.Changed = changed
			out.Result = attempt.Revised
			out.Conversation = append(request, framework.Message{Role: framework.RoleAssistant, Content: resp.Text})
			return out, nil
		}
		rejected = attempt.Rejected
	}
	return out, nil
}

// acceptRuntimeFix accepts a strictly better revision, or one that changes
// content without making validation any worse.
func acceptRuntimeFix(prior, revised validation.Result, changed bool) (bool, string) {
	if !changed {
		return false, "no file content changed"
	}
	if revised.Improves(prior) {
		return true, ""
	}
	if revised.Score == prior.Score && len(revised.CriticalIssues) == len(prior.CriticalIssues) {
		return true, ""
	}
	var reasons []string
	if revised.Score < prior.Score {
		reasons = append(reasons, fmt.Sprintf("validation score dropped from %d to %d", prior.Score, revised.Score))
	}
	if len(revised.CriticalIssues) > len(prior.CriticalIssues) {
		reasons = append(reasons, "it introduced critical issues: "+strings.Join(revised.CriticalMessages(), "; "))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "validation did not improve")
	}
	return false, strings.Join(reasons, " and ")
}

func changedPaths(current, revised []framework.ArtifactFile) []string {
	index := framework.FileIndex(current)
	var out []string
	seen := map[string]bool{}
	for _, f := range revised {
		p := framework.NormalizePath(f.Path)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if prev, ok := index[p]; !ok || prev.Content != f.Content {
			out = append(out, p)
		}
	}
	return out
}
