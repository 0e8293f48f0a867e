package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/framework"
)

// newSuggestionsCmd groups the review commands for extracted suggestions.
func newSuggestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "suggestions",
		Aliases: []string{"sug"},
		Short:   "Review suggestions raised by reviewer and auditor agents",
	}
	cmd.AddCommand(
		newSuggestionsListCmd(),
		newSuggestionActionCmd("approve", "Approve a pending suggestion"),
		newSuggestionActionCmd("reject", "Reject a pending suggestion"),
		newSuggestionActionCmd("apply", "Apply an approved suggestion to the artifact"),
	)
	return cmd
}

func newSuggestionsListCmd() *cobra.Command {
	var filter framework.SuggestionFilter
	var status string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			filter.Status = framework.SuggestionStatus(status)
			list, err := svc.suggestions.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if list == nil {
					list = []framework.Suggestion{}
				}
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No suggestions found.")
				return nil
			}
			for _, s := range list {
				printSuggestion(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.RunID, "run", "", "Only suggestions from this run")
	cmd.Flags().StringVar(&filter.Agent, "agent", "", "Only suggestions from this agent")
	cmd.Flags().StringVar(&status, "status", "", "Only suggestions in this status (pending, approved, rejected, applied)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the suggestions as JSON")
	return cmd
}

func newSuggestionActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			var sug framework.Suggestion
			switch action {
			case "approve":
				sug, err = framework.Approve(cmd.Context(), svc.suggestions, args[0])
			case "reject":
				sug, err = framework.Reject(cmd.Context(), svc.suggestions, args[0])
			case "apply":
				sug, err = svc.executor.ApplySuggestion(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sug.ID, sug.Status)
			return nil
		},
	}
}

func printSuggestion(w io.Writer, s framework.Suggestion) {
	fmt.Fprintf(w, "%s [%s] %s · %s · %s\n", s.ID, s.Priority, s.Title, s.Agent, s.Status)
	if s.Description != "" && s.Description != s.Title {
		fmt.Fprintf(w, "  %s\n", truncateLine(s.Description, 100))
	}
	for _, c := range s.SuggestedChanges {
		fmt.Fprintf(w, "  change %s\n", c.Path)
	}
}
