package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/lexcodex/codeforge/framework"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements framework.LanguageModel with the genai SDK. System
// turns are folded into the system instruction.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a client for the Gemini API. An empty apiKey lets
// the SDK read GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

// Generate sends prompt as a single user turn.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return g.Chat(ctx, []framework.Message{{Role: framework.RoleUser, Content: prompt}}, options)
}

// Chat sends the conversation to GenerateContent.
func (g *GeminiClient) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	contents, system := geminiContents(messages)
	cfg := geminiConfig(options)
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	model := g.model
	if options != nil && options.Model != "" {
		model = options.Model
	}
	resp, err := g.cli.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, Classify("gemini", geminiStatus(err), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, Classify("gemini", 0, errors.New("gemini returned no candidates"))
	}
	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	out := &framework.LLMResponse{Text: text.String(), FinishReason: string(cand.FinishReason)}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = map[string]int{
			"prompt_tokens":     int(u.PromptTokenCount),
			"completion_tokens": int(u.CandidatesTokenCount),
			"total_tokens":      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func geminiContents(messages []framework.Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case framework.RoleSystem:
			system = append(system, msg.Content)
		case framework.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func geminiConfig(options *framework.LLMOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if options == nil {
		return cfg
	}
	if options.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(options.Temperature))
	}
	if options.TopP != 0 {
		cfg.TopP = genai.Ptr(float32(options.TopP))
	}
	if options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		cfg.StopSequences = options.Stop
	}
	return cfg
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
