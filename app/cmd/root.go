package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/agents"
)

var (
	cfgFile   string
	workspace string
	logLevel  string

	globalCfg *agents.Config
)

// Execute is the entry point for the CLI.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codeforge",
		Short:         "Multi-agent code generation with validation and self-correction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspace = wd
			}
			if abs, err := filepath.Abs(workspace); err == nil {
				workspace = abs
			}
			if cfgFile == "" {
				cfgFile = agents.DefaultConfigPath(workspace)
			}
			cfg, err := agents.LoadConfig(cfgFile, workspace)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			globalCfg = cfg
			slog.SetDefault(newLogger(cfg.Logging.Level))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace directory")
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to codeforge.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newValidateCmd(),
		newParseCmd(),
		newRunsCmd(),
		newSuggestionsCmd(),
		newFixCmd(),
		newAgentsCmd(),
		newConfigCmd(),
	)
	return root
}

// newLogger writes text logs to stderr so command output stays parseable.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
