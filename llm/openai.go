package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexcodex/codeforge/framework"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements framework.LanguageModel over the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client. baseURL may be empty for the public API or
// point at any compatible server.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Generate sends prompt as a single user turn.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return o.Chat(ctx, []framework.Message{{Role: framework.RoleUser, Content: prompt}}, options)
}

// Chat sends the conversation as chat completion messages.
func (o *OpenAIClient) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openAIRole(msg.Role), Content: msg.Content})
	}
	if options != nil {
		if options.Model != "" {
			req.Model = options.Model
		}
		req.Temperature = float32(options.Temperature)
		req.TopP = float32(options.TopP)
		req.MaxTokens = options.MaxTokens
		if len(options.Stop) > 0 {
			req.Stop = options.Stop
		}
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, Classify("openai", openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, Classify("openai", 0, errors.New("openai returned no choices"))
	}
	choice := resp.Choices[0]
	out := &framework.LLMResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func openAIRole(role string) string {
	switch role {
	case framework.RoleSystem:
		return openai.ChatMessageRoleSystem
	case framework.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func (o *OpenAIClient) String() string { return fmt.Sprintf("openai:%s", o.model) }
