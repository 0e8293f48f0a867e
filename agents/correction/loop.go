package correction

import (
	"context"
	"fmt"

	"github.com/lexcodex/codeforge/framework"
)

// DefaultMaxAttempts bounds correction rounds when none is configured.
const DefaultMaxAttempts = 3

// Loop drives the correction machine against a language model.
type Loop struct {
	Model       framework.LanguageModel
	Options     *framework.LLMOptions
	Evaluator   Evaluator
	MaxAttempts int
	Telemetry   framework.Telemetry
	RunID       string
	Agent       string
}

// Outcome is the terminal machine plus the conversation that produced the
// best candidate.
type Outcome struct {
	Machine
	Conversation []framework.Message
}

func (l *Loop) maxAttempts() int {
	if l.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return l.MaxAttempts
}

// Run corrects draft until it is accepted or the machine gives up. The
// conversation is the exchange that produced draft; if it does not already
// end with the draft as an assistant turn, one is appended.
func (l *Loop) Run(ctx context.Context, conversation []framework.Message, draft Candidate) (Outcome, error) {
	limit := l.maxAttempts()
	m := Start(draft, limit)
	conv := framework.CloneMessages(conversation)
	if n := len(conv); n == 0 || conv[n-1].Role != framework.RoleAssistant {
		conv = append(conv, framework.Message{Role: framework.RoleAssistant, Content: draft.Text})
	}
	for !m.Done() {
		if l.Model == nil {
			return Outcome{Machine: m, Conversation: conv}, fmt.Errorf("correction loop missing model")
		}
		request := append(framework.CloneMessages(conv), framework.Message{
			Role:    framework.RoleUser,
			Content: CorrectionPrompt(m.Best.Result),
		})
		resp, err := l.Model.Chat(ctx, request, l.Options)
		if err != nil {
			return Outcome{Machine: m, Conversation: conv}, fmt.Errorf("correction attempt %d: %w", len(m.Attempts)+1, err)
		}
		revision := l.Evaluator.Evaluate(resp.Text, m.Best.Files)
		m = Advance(m, revision, limit)
		last := m.Attempts[len(m.Attempts)-1]
		if last.Accepted {
			conv = append(request, framework.Message{Role: framework.RoleAssistant, Content: resp.Text})
		}
		framework.Emit(l.Telemetry, framework.Event{
			Type:    framework.EventCorrectionAttempt,
			RunID:   l.RunID,
			Agent:   l.Agent,
			Message: string(m.State),
			Metadata: map[string]interface{}{
				"attempt":        last.Number,
				"prior_score":    last.Prior.Score,
				"score":          last.Revised.Score,
				"critical":       len(last.Revised.CriticalIssues),
				"accepted":       last.Accepted,
				"terminal":       m.Done(),
				"exhaust_reason": string(m.Reason),
			},
		})
	}
	return Outcome{Machine: m, Conversation: conv}, nil
}
