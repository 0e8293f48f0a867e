package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRunsCmd groups commands over stored run snapshots.
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored workflow runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			runs, err := svc.runs.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s · %s · %s · %s\n",
					run.ID, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04"), truncateLine(run.Request, 60))
			}
			return nil
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	var asJSON bool
	var transcript bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			run, ok, err := svc.runs.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errNoRun, args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "request: %s\n", run.Request)
			printRun(w, run)
			if f := run.Failure; f != nil {
				fmt.Fprintf(w, "failed at %s: %s\n", f.Agent, f.Error)
				if f.Hint != "" {
					fmt.Fprintf(w, "hint: %s\n", f.Hint)
				}
			}
			if !transcript {
				return nil
			}
			entries, err := svc.transcripts.History(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(w, "\n--- step %d %s [%s]\n%s\n", e.Step+1, e.Agent, e.Message.Role, e.Message.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Include the recorded conversation")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete runs and their transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			for _, id := range args {
				if err := svc.runs.Delete(cmd.Context(), id); err != nil {
					return err
				}
				if err := svc.transcripts.Clear(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", id)
			}
			return nil
		},
	}
}

func truncateLine(s string, n int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
