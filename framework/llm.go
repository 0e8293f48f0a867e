package framework

import "context"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMOptions configure a single completion request.
type LLMOptions struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	TopP        float64  `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// LLMResponse is the provider-neutral completion result.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// Message is one conversation turn sent to a chat model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// LanguageModel is the completion client boundary. Implementations must be
// safe to call sequentially from one run; they are never called concurrently
// by the executor.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
	Chat(ctx context.Context, messages []Message, options *LLMOptions) (*LLMResponse, error)
}

// CloneMessages returns a copy of the conversation so callers can append
// turns without aliasing the original slice.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
