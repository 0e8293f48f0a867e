package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lexcodex/codeforge/agents"
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/validation"
	"github.com/lexcodex/codeforge/llm"
	"github.com/lexcodex/codeforge/persistence"
)

// services bundles everything a command may need, built from the config.
type services struct {
	cfg         *agents.Config
	store       framework.ArtifactStore
	runs        persistence.RunStore
	transcripts persistence.TranscriptStore
	suggestions framework.SuggestionStore
	executor    *agents.Executor
	logger      *slog.Logger

	closers []func() error
}

// buildOptions selects the optional parts of the wiring.
type buildOptions struct {
	// model builds the completion client; commands that only inspect
	// stored state skip it.
	model bool
	// sinks receive telemetry in addition to the logger and event file.
	sinks []framework.Telemetry
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServices opens the stores named in cfg and, when asked, the model
// client with its middleware stack.
func buildServices(ctx context.Context, cfg *agents.Config, opts buildOptions) (svc *services, err error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	svc = &services{cfg: cfg, logger: slog.Default()}
	defer func() {
		if err != nil {
			_ = svc.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if svc.store, err = openArtifactStore(cfg); err != nil {
		return nil, err
	}
	if svc.runs, err = persistence.NewFileRunStore(filepath.Join(cfg.Storage.StateDir, "runs")); err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if svc.transcripts, err = persistence.NewFileTranscriptStore(filepath.Join(cfg.Storage.StateDir, "transcripts")); err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	switch cfg.Storage.Suggestions {
	case "memory":
		svc.suggestions = persistence.NewMemorySuggestionStore()
	default:
		sqlite, err := persistence.NewSQLiteSuggestionStore(filepath.Join(cfg.Storage.StateDir, "suggestions.db"))
		if err != nil {
			return nil, fmt.Errorf("open suggestion store: %w", err)
		}
		svc.closers = append(svc.closers, sqlite.Close)
		svc.suggestions = sqlite
	}

	sinks := []framework.Telemetry{framework.LogTelemetry{Logger: svc.logger}}
	if cfg.Logging.TelemetryFile != "" {
		path := cfg.Logging.TelemetryFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Storage.StateDir, path)
		}
		file, err := framework.NewJSONFileTelemetry(path)
		if err != nil {
			return nil, fmt.Errorf("open telemetry file: %w", err)
		}
		svc.closers = append(svc.closers, file.Close)
		sinks = append(sinks, file)
	}
	sinks = append(sinks, opts.sinks...)
	telemetry := framework.MultiplexTelemetry{Sinks: sinks}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	exec := &agents.Executor{
		Options:             cfg.Model.Options(),
		Catalog:             catalog,
		Store:               svc.store,
		Suggestions:         svc.suggestions,
		Runs:                svc.runs,
		Transcripts:         svc.transcripts,
		Telemetry:           telemetry,
		Validator:           validation.New(validation.WithOverrides(cfg.Validation.Rules)),
		Mode:                cfg.ValidationMode(),
		MaxContextChars:     cfg.Context.MaxChars,
		MaxCorrections:      cfg.Correction.MaxAttempts,
		RuntimeMaxAttempts:  cfg.Correction.RuntimeMaxAttempts,
		ContinueOnExhausted: !cfg.Correction.AbortOnExhausted,
		Retry:               llm.RetryPolicy{MaxAttempts: cfg.Provider.Retries, Backoff: cfg.Provider.Backoff},
		Logger:              svc.logger,
	}
	if !cfg.Cache.Disabled {
		cache, err := persistence.NewResponseCache(cfg.Cache.MaxEntries, persistence.WithTTL(cfg.Cache.TTL))
		if err != nil {
			return nil, err
		}
		exec.Cache = cache
	}
	if opts.model {
		provider := cfg.Model
		provider.Debug = provider.Debug || cfg.Logging.LLMDebug
		model, err := llm.New(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("build model client: %w", err)
		}
		exec.Model = llm.Wrap(model, llm.RateLimit(cfg.Provider.RPS, cfg.Provider.Burst))
	}
	svc.executor = exec
	return svc, nil
}

func openArtifactStore(cfg *agents.Config) (framework.ArtifactStore, error) {
	switch cfg.Storage.Artifacts {
	case "memory":
		return framework.NewMemoryArtifactStore(), nil
	case "s3":
		store, err := persistence.NewS3ArtifactStore(cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 artifact store: %w", err)
		}
		return store, nil
	default:
		store, err := persistence.NewDirArtifactStore(cfg.Storage.Workspace)
		if err != nil {
			return nil, fmt.Errorf("open artifact dir: %w", err)
		}
		return store, nil
	}
}
