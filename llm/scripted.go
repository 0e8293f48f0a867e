package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/codeforge/framework"
)

// ErrScriptExhausted is returned once every scripted reply has been used.
var ErrScriptExhausted = errors.New("scripted model has no replies left")

// ScriptedModel replays canned replies in order. It backs offline demos and
// tests; Calls records every conversation it received.
type ScriptedModel struct {
	mu      sync.Mutex
	replies []string
	next    int
	calls   [][]framework.Message
}

// NewScriptedModel returns a model that answers with replies in order.
func NewScriptedModel(replies ...string) *ScriptedModel {
	return &ScriptedModel{replies: append([]string(nil), replies...)}
}

type scriptFile struct {
	Replies []string `yaml:"replies"`
}

// LoadScriptedModel reads replies from a YAML file with a top-level
// "replies" list.
func LoadScriptedModel(path string) (*ScriptedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var script scriptFile
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(script.Replies) == 0 {
		return nil, fmt.Errorf("script %s has no replies", path)
	}
	return NewScriptedModel(script.Replies...), nil
}

func (s *ScriptedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return s.Chat(ctx, []framework.Message{{Role: framework.RoleUser, Content: prompt}}, options)
}

func (s *ScriptedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, framework.CloneMessages(messages))
	if s.next >= len(s.replies) {
		return nil, Classify("scripted", 0, ErrScriptExhausted)
	}
	reply := s.replies[s.next]
	s.next++
	return &framework.LLMResponse{Text: reply, FinishReason: "stop"}, nil
}

// Calls returns the conversations received so far.
func (s *ScriptedModel) Calls() [][]framework.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]framework.Message, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many replies are left.
func (s *ScriptedModel) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies) - s.next
}

// LastUserTurn returns the final user message of the most recent call.
func (s *ScriptedModel) LastUserTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	conv := s.calls[len(s.calls)-1]
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == framework.RoleUser {
			return strings.TrimSpace(conv[i].Content)
		}
	}
	return ""
}
