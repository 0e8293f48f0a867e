package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/fileparse"
	"github.com/lexcodex/codeforge/framework/validation"
	"github.com/lexcodex/codeforge/persistence"
)

// maxInspectFileSize skips files that are unlikely to be source.
const maxInspectFileSize = 1 << 20

var skippedDirs = map[string]bool{"node_modules": true, ".git": true, ".next": true, "dist": true, "build": true}

func newValidateCmd() *cobra.Command {
	var asJSON bool
	var focus []string
	var mode string

	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Score a directory of generated files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := globalCfg.Storage.Workspace
			if len(args) == 1 {
				dir = args[0]
			}
			files, err := readTree(dir)
			if err != nil {
				return err
			}
			m := globalCfg.ValidationMode()
			if mode != "" {
				if m, err = validation.ParseMode(mode); err != nil {
					return err
				}
			}
			in := validation.Input{Files: files, Mode: m}
			if cmd.Flags().Changed("focus") {
				in.Focus = focus
			}
			res := validation.New(validation.WithOverrides(globalCfg.Validation.Rules)).Check(in)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printValidation(cmd.OutOrStdout(), len(files), res)
			}
			if !res.IsValid {
				return fmt.Errorf("validation failed: score %d, %d critical issue(s)", res.Score, len(res.CriticalIssues))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().StringSliceVar(&focus, "focus", nil, "Only report findings for these paths")
	cmd.Flags().StringVar(&mode, "mode", "", "Validation mode (server, static)")
	return cmd
}

func newParseCmd() *cobra.Command {
	var asJSON bool
	var out string

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Extract file blocks from a model response (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			res := fileparse.ParseDetailed(string(data))
			if out != "" {
				store, err := persistence.NewDirArtifactStore(out)
				if err != nil {
					return err
				}
				for _, f := range res.Files {
					if err := store.Upsert(cmd.Context(), f.Path, f.Content, f.Language); err != nil {
						return err
					}
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			w := cmd.OutOrStdout()
			if len(res.Files) == 0 {
				fmt.Fprintln(w, "No files found.")
			}
			for _, f := range res.Files {
				lines := strings.Count(f.Content, "\n")
				fmt.Fprintf(w, "%s (%s, %d lines, %s)\n", f.Path, f.Language, lines, res.Sources[f.Path])
			}
			for _, d := range res.Discarded {
				fmt.Fprintf(w, "skipped block %d: %s\n", d.Index, d.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&out, "out", "", "Write the parsed files into this directory")
	return cmd
}

func printValidation(w io.Writer, files int, res validation.Result) {
	status := "valid"
	if !res.IsValid {
		status = "invalid"
	}
	fmt.Fprintf(w, "%d file(s) · score %d · %s\n", files, res.Score, status)
	for _, issue := range res.CriticalIssues {
		fmt.Fprintf(w, "  critical %s\n", issue)
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "  advisory %s\n", issue)
	}
}

// readTree loads every source file under dir as artifact files with
// dir-relative paths.
func readTree(dir string) ([]framework.ArtifactFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	var files []framework.ArtifactFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxInspectFileSize {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		p := framework.NormalizePath(filepath.ToSlash(rel))
		files = append(files, framework.ArtifactFile{Path: p, Content: string(content), Language: framework.DetectLanguage(p)})
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return nil, err
	}
	return files, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
