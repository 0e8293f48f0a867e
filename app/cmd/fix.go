package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/agents/correction"
)

func newFixCmd() *cobra.Command {
	var failure string
	var failureFile string

	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Repair the artifact against a reported runtime failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			if failureFile != "" {
				var data []byte
				var err error
				if failureFile == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(failureFile)
				}
				if err != nil {
					return err
				}
				failure = string(data)
			}
			if strings.TrimSpace(failure) == "" {
				return correction.ErrEmptyFailure
			}
			svc, err := buildServices(cmd.Context(), globalCfg, buildOptions{model: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			out, err := svc.executor.FixRuntimeFailure(cmd.Context(), failure)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, a := range out.Attempts {
				line := fmt.Sprintf("attempt %d: score %d -> %d", a.Number, a.Prior.Score, a.Revised.Score)
				if a.Accepted {
					line += " · accepted"
				} else if a.Rejected != "" {
					line += " · rejected: " + a.Rejected
				}
				fmt.Fprintln(w, line)
			}
			if !out.Fixed {
				return errors.New("no acceptable fix was produced")
			}
			fmt.Fprintf(w, "fixed · score %d · changed %s\n", out.Result.Score, strings.Join(out.Changed, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&failure, "failure", "", "Runtime failure description (error message, stack trace)")
	cmd.Flags().StringVar(&failureFile, "failure-file", "", "Read the failure description from a file (- for stdin)")
	return cmd
}
