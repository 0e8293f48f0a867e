package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newAgentsCmd wires the `agents` command group.
func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the agent catalog",
	}
	cmd.AddCommand(newAgentsListCmd(), newAgentsShowCmd())
	return cmd
}

// newAgentsListCmd lists the catalog with config overrides applied.
func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := globalCfg.Catalog()
			if err != nil {
				return err
			}
			workflow := map[string]int{}
			for i, id := range globalCfg.Workflow.Agents {
				workflow[id] = i + 1
			}
			for _, spec := range cat.List() {
				line := fmt.Sprintf("%s (%s) · %s", spec.ID, spec.Role, spec.Name)
				if spec.Model != "" {
					line += " · model=" + spec.Model
				}
				if n, ok := workflow[spec.ID]; ok {
					line += fmt.Sprintf(" · workflow step %d", n)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

// newAgentsShowCmd prints one agent's instructions.
func newAgentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show an agent's role and instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := globalCfg.Catalog()
			if err != nil {
				return err
			}
			spec, ok := cat.Get(args[0])
			if !ok {
				return fmt.Errorf("agent %s not found", args[0])
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n%s\n\n%s\n", spec.ID, spec.Role, spec.Name, strings.TrimSpace(spec.Instructions))
			return nil
		},
	}
}
