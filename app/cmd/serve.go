package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, metrics and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(globalCfg.Logging.Level)
			metrics := server.NewMetrics()
			events := server.NewEventHub(logger)
			svc, err := buildServices(ctx, globalCfg, buildOptions{
				model: true,
				sinks: []framework.Telemetry{metrics, events},
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			if addr == "" {
				addr = globalCfg.Server.Addr
			}
			api := &server.APIServer{
				Executor: svc.executor,
				Runs:     svc.runs,
				Metrics:  metrics,
				Events:   events,
				Logger:   logger,
			}
			logger.Info("serving workspace", "workspace", workspace, "artifacts", globalCfg.Storage.Artifacts)
			if err := api.ServeContext(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	return cmd
}
