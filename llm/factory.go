package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

// Provider names accepted by New.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// ProviderConfig selects and configures a completion client.
type ProviderConfig struct {
	Provider string `yaml:"provider" json:"provider" validate:"omitempty,oneof=ollama openai gemini scripted"`
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`
	// APIKey falls back to OPENAI_API_KEY / GEMINI_API_KEY.
	APIKey string `yaml:"api_key" json:"-"`
	// Script is the reply file for the scripted provider.
	Script      string  `yaml:"script" json:"script,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens,omitempty" validate:"gte=0"`
	Debug       bool    `yaml:"debug" json:"debug,omitempty"`
}

// Options returns the per-request options implied by the config.
func (c ProviderConfig) Options() *framework.LLMOptions {
	return &framework.LLMOptions{Model: c.Name, Temperature: c.Temperature, MaxTokens: c.MaxTokens}
}

// New builds the raw client for cfg. Middleware is applied by the caller.
func New(ctx context.Context, cfg ProviderConfig) (framework.LanguageModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		client := NewClient(cfg.Endpoint, cfg.Name)
		client.SetDebugLogging(cfg.Debug)
		return client, nil
	case ProviderOpenAI:
		return NewOpenAIClient(firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY")), cfg.Endpoint, cfg.Name)
	case ProviderGemini:
		return NewGeminiClient(ctx, firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY")), cfg.Name)
	case ProviderScripted:
		if cfg.Script == "" {
			return nil, fmt.Errorf("scripted provider requires a script file")
		}
		return LoadScriptedModel(cfg.Script)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
