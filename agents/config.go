package agents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/codeforge/framework/validation"
	"github.com/lexcodex/codeforge/llm"
	"github.com/lexcodex/codeforge/persistence"
)

const (
	// ConfigFileName is the workspace-local configuration file.
	ConfigFileName = "codeforge.yaml"
	stateDirName   = ".codeforge"
)

// Config matches codeforge.yaml.
type Config struct {
	Version    string               `yaml:"version"`
	Model      llm.ProviderConfig   `yaml:"model"`
	Workflow   WorkflowConfig       `yaml:"workflow"`
	Context    ContextConfig        `yaml:"context"`
	Correction CorrectionConfig     `yaml:"correction"`
	Provider   ProviderPolicy       `yaml:"provider"`
	Cache      CacheConfig          `yaml:"cache"`
	Validation ValidationConfig     `yaml:"validation"`
	Storage    StorageConfig        `yaml:"storage"`
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"logging"`
	Agents     map[string]AgentSpec `yaml:"agents"`
}

// WorkflowConfig lists the agents run for a request.
type WorkflowConfig struct {
	Agents []string `yaml:"agents"`
}

// ContextConfig bounds the project context injected into prompts.
type ContextConfig struct {
	MaxChars int `yaml:"max_chars" validate:"gte=0"`
}

// CorrectionConfig bounds the self-correction loops.
type CorrectionConfig struct {
	MaxAttempts        int  `yaml:"max_attempts" validate:"gte=0,lte=10"`
	RuntimeMaxAttempts int  `yaml:"runtime_max_attempts" validate:"gte=0,lte=10"`
	AbortOnExhausted   bool `yaml:"abort_on_exhausted"`
}

// ProviderPolicy controls retries and rate limiting of completion calls.
type ProviderPolicy struct {
	Retries int           `yaml:"retries" validate:"gte=0,lte=10"`
	Backoff time.Duration `yaml:"backoff" validate:"gte=0"`
	RPS     float64       `yaml:"rps" validate:"gte=0"`
	Burst   int           `yaml:"burst" validate:"gte=0"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Disabled   bool          `yaml:"disabled"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=0"`
}

// ValidationConfig selects the deployment mode and rule overrides.
type ValidationConfig struct {
	Mode  string                         `yaml:"mode" validate:"omitempty,oneof=server static"`
	Rules map[string]validation.Override `yaml:"rules"`
}

// StorageConfig selects where artifacts, runs and suggestions live.
type StorageConfig struct {
	// Artifacts is dir, memory or s3.
	Artifacts string `yaml:"artifacts" validate:"omitempty,oneof=dir memory s3"`
	// Workspace is the artifact directory for the dir backend.
	Workspace string `yaml:"workspace"`
	// StateDir holds runs, transcripts and the suggestion database.
	StateDir string `yaml:"state_dir"`
	// Suggestions is sqlite or memory.
	Suggestions string              `yaml:"suggestions" validate:"omitempty,oneof=sqlite memory"`
	S3          persistence.S3Config `yaml:"s3"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level         string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	TelemetryFile string `yaml:"telemetry_file"`
	LLMDebug      bool   `yaml:"llm_debug"`
}

var configValidate = validator.New()

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	return &Config{
		Version: "1",
		Model:   llm.ProviderConfig{Provider: llm.ProviderOllama, Name: "codellama", Endpoint: llm.DefaultOllamaEndpoint, Temperature: 0.2},
		Workflow: WorkflowConfig{
			Agents: DefaultCatalog().Workflow(),
		},
		Context: ContextConfig{MaxChars: DefaultMaxContextChars},
		Correction: CorrectionConfig{
			MaxAttempts:        3,
			RuntimeMaxAttempts: 2,
			AbortOnExhausted:   true,
		},
		Provider: ProviderPolicy{Retries: llm.DefaultMaxAttempts, Backoff: llm.DefaultBackoff},
		Cache:    CacheConfig{TTL: persistence.DefaultCacheTTL, MaxEntries: persistence.DefaultCacheMaxEntries},
		Validation: ValidationConfig{
			Mode: string(validation.ModeServer),
		},
		Storage: StorageConfig{
			Artifacts:   "dir",
			Workspace:   filepath.Join(workspace, "generated"),
			StateDir:    filepath.Join(workspace, stateDirName),
			Suggestions: "sqlite",
		},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultConfigPath returns codeforge.yaml within the workspace.
func DefaultConfigPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ConfigFileName)
}

// LoadConfig loads the config or returns defaults when missing. A .env file
// next to the config is loaded first so credentials can stay out of YAML;
// variables already set in the environment win.
func LoadConfig(path, workspace string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig(workspace)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Storage.Workspace = expandPath(cfg.Storage.Workspace, workspace)
	cfg.Storage.StateDir = expandPath(cfg.Storage.StateDir, workspace)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets CODEFORGE_* variables override the file.
func (c *Config) applyEnv() {
	c.Model.Provider = envOrDefault("CODEFORGE_PROVIDER", c.Model.Provider)
	c.Model.Name = envOrDefault("CODEFORGE_MODEL", c.Model.Name)
	c.Model.Endpoint = envOrDefault("CODEFORGE_ENDPOINT", c.Model.Endpoint)
	c.Logging.Level = envOrDefault("CODEFORGE_LOG_LEVEL", c.Logging.Level)
	c.Server.Addr = envOrDefault("CODEFORGE_ADDR", c.Server.Addr)
	if v := os.Getenv("CODEFORGE_MAX_CORRECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Correction.MaxAttempts = n
		}
	}
	if c.Storage.S3.AccessKey == "" {
		c.Storage.S3.AccessKey = os.Getenv("CODEFORGE_S3_ACCESS_KEY")
	}
	if c.Storage.S3.SecretKey == "" {
		c.Storage.S3.SecretKey = os.Getenv("CODEFORGE_S3_SECRET_KEY")
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config missing")
	}
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Workflow.Agents) == 0 {
		return errors.New("invalid config: workflow.agents is empty")
	}
	if c.Storage.Artifacts == "s3" && c.Storage.S3.Bucket == "" {
		return errors.New("invalid config: storage.s3.bucket is required for the s3 backend")
	}
	return nil
}

// Catalog returns the built-in agents with the config's overrides applied.
func (c *Config) Catalog() (*Catalog, error) {
	cat := DefaultCatalog()
	for id, spec := range c.Agents {
		if err := cat.Override(id, spec); err != nil {
			return nil, err
		}
	}
	if _, err := cat.Resolve(c.Workflow.Agents); err != nil {
		return nil, err
	}
	return cat, nil
}

// ValidationMode parses the configured mode.
func (c *Config) ValidationMode() validation.Mode {
	mode, err := validation.ParseMode(c.Validation.Mode)
	if err != nil {
		return validation.ModeServer
	}
	return mode
}

// SaveConfig writes the config to disk.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// expandPath resolves ~ and workspace-relative paths while leaving absolute
// entries untouched.
func expandPath(path, workspace string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if filepath.IsAbs(path) {
		return path
	}
	if workspace == "" || strings.HasPrefix(path, workspace) {
		return path
	}
	return filepath.Join(workspace, path)
}
