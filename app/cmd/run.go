package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/agents"
	"github.com/lexcodex/codeforge/app/monitor"
	"github.com/lexcodex/codeforge/framework"
)

func newRunCmd() *cobra.Command {
	var agentIDs []string
	var runID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run the agent workflow for a request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var sinks []framework.Telemetry
			var sink *monitor.Sink
			if watch {
				sink = monitor.NewSink(0)
				sinks = append(sinks, sink)
			}
			svc, err := buildServices(ctx, globalCfg, buildOptions{model: true, sinks: sinks})
			if err != nil {
				return err
			}
			defer svc.Close()

			ids := agentIDs
			if len(ids) == 0 {
				ids = globalCfg.Workflow.Agents
			}
			req := agents.RunRequest{ID: runID, Request: strings.Join(args, " "), Agents: ids}
			start := func(ctx context.Context) (*framework.Run, error) {
				return svc.executor.Run(ctx, req)
			}
			var run *framework.Run
			if watch {
				run, err = monitor.Run(ctx, sink, req.Request, ids, start)
			} else {
				run, err = start(ctx)
			}
			if run != nil {
				printRun(cmd.OutOrStdout(), run)
			}
			if err != nil {
				if hint := framework.RemediationHint(err); hint != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", hint)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&agentIDs, "agents", nil, "Agents to run in order (default: workflow.agents)")
	cmd.Flags().StringVar(&runID, "id", "", "Run identifier (default: generated)")
	cmd.Flags().BoolVar(&watch, "monitor", false, "Show the live terminal monitor")
	return cmd
}

// printRun writes a one-line-per-step summary of run.
func printRun(w io.Writer, run *framework.Run) {
	fmt.Fprintf(w, "run %s · %s · %d step(s)\n", run.ID, run.Status, len(run.Steps))
	for _, step := range run.Steps {
		line := fmt.Sprintf("  %d. %s (%s) %s", step.Index+1, step.Agent, step.Role, step.Status)
		if v := step.Validation; v != nil {
			line += fmt.Sprintf(" · score %d", v.Score)
			if v.Corrections > 0 {
				line += fmt.Sprintf(" · %d correction(s)", v.Corrections)
			}
		}
		if step.CacheHit {
			line += " · cached"
		}
		if len(step.Files) > 0 {
			line += " · " + strings.Join(step.Files, ", ")
		}
		fmt.Fprintln(w, line)
		if step.Warning != "" {
			fmt.Fprintf(w, "     warning: %s\n", step.Warning)
		}
		if step.Error != "" {
			fmt.Fprintf(w, "     error: %s\n", step.Error)
		}
		if step.Validation != nil {
			for _, issue := range step.Validation.Critical {
				fmt.Fprintf(w, "     ! %s\n", issue)
			}
		}
	}
}

// errNoRun reports a missing run identifier.
var errNoRun = errors.New("run not found")
