package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/codeforge/framework"
)

type runKey struct{}

// RunScope identifies the run and agent a completion belongs to.
type RunScope struct {
	RunID string
	Agent string
}

// WithRunScope attaches scope to ctx so instrumentation can tag events.
func WithRunScope(ctx context.Context, scope RunScope) context.Context {
	return context.WithValue(ctx, runKey{}, scope)
}

// RunScopeFrom returns the scope attached by WithRunScope.
func RunScopeFrom(ctx context.Context) (RunScope, bool) {
	scope, ok := ctx.Value(runKey{}).(RunScope)
	return scope, ok
}

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emitPrompt(ctx, "generate", map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}, map[string]interface{}{"prompt": clip(prompt, 8192)})
	start := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse(ctx, "generate", resp, err, time.Since(start))
	return resp, err
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	base, debug := chatMeta(messages, options)
	m.emitPrompt(ctx, "chat", base, debug)
	start := time.Now()
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.emitResponse(ctx, "chat", resp, err, time.Since(start))
	return resp, err
}

func chatMeta(messages []framework.Message, options *framework.LLMOptions) (map[string]interface{}, map[string]interface{}) {
	roles := make([]string, 0, len(messages))
	chars := 0
	for _, msg := range messages {
		roles = append(roles, msg.Role)
		chars += len(msg.Content)
	}
	base := map[string]interface{}{
		"model":         modelFromOptions(options),
		"message_count": len(messages),
		"roles":         roles,
		"prompt_chars":  chars,
	}
	if n := len(messages); n > 0 {
		base["last_preview"] = clip(messages[n-1].Content, 512)
	}
	full := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		full = append(full, map[string]interface{}{
			"role":    msg.Role,
			"content": clip(msg.Content, 8192),
		})
	}
	return base, map[string]interface{}{"messages": full}
}

func (m *InstrumentedModel) emitPrompt(ctx context.Context, kind string, base, debugFields map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind}
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	scope, _ := RunScopeFrom(ctx)
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		RunID:     scope.RunID,
		Agent:     scope.Agent,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s prompt", kind),
		Metadata:  metadata,
	})
}

func (m *InstrumentedModel) emitResponse(ctx context.Context, kind string, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"kind":       kind,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_chars"] = len(resp.Text)
		metadata["text_preview"] = clip(resp.Text, 1024)
		if resp.Usage != nil {
			metadata["usage"] = resp.Usage
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
		metadata["recoverable"] = framework.IsRecoverable(err)
	}
	scope, _ := RunScopeFrom(ctx)
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMResponse,
		RunID:     scope.RunID,
		Agent:     scope.Agent,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s response", kind),
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
