package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"formula-corrector/internal/document"
	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/reference"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "List the $$ formulas of a markdown document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if _, err := loadSettings(cmd); err != nil {
				return err
			}

			text, err := document.ReadText(args[0])
			if err != nil {
				return err
			}
			report := extractor.New().ExtractWithReport(text)

			w := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(w, report)
			}
			for i, e := range report.Entities {
				if e.StartLine == e.EndLine {
					fmt.Fprintf(w, "%d. line %d: %s\n", i+1, e.StartLine, e.Text)
				} else {
					fmt.Fprintf(w, "%d. lines %d-%d: %s\n", i+1, e.StartLine, e.EndLine, strings.ReplaceAll(e.Text, "\n", " "))
				}
			}
			fmt.Fprintf(w, "%d formulas", len(report.Entities))
			if report.Degraded > 0 {
				fmt.Fprintf(w, ", %d spans skipped", report.Degraded)
			}
			fmt.Fprintln(w)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query TEXT",
		Short: "Search the reference document for chunks similar to TEXT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refPath, _ := cmd.Flags().GetString("reference")
			jsonOut, _ := cmd.Flags().GetBool("json")

			manager, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			opts, err := indexOptions(manager.GetConfig(), manager.GetAPIKey(), manager.GetBaseURL())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("top-k") {
				k, _ := cmd.Flags().GetInt("top-k")
				opts = append(opts, reference.WithTopK(k))
			}

			text, err := reference.ReadFile(refPath)
			if err != nil {
				return err
			}
			ix := reference.NewIndex(opts...)
			ix.Load(text)

			found, err := ix.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(w, found)
			}
			if ix.Degraded() {
				fmt.Fprintln(w, "No similarity backend configured; reference search is disabled.")
				return nil
			}
			for _, r := range found {
				fmt.Fprintf(w, "[%s] score %.3f, chars %d-%d\n%s\n\n", r.ChunkID, r.Score, r.StartPos, r.EndPos, strings.TrimSpace(r.Content))
			}
			fmt.Fprintf(w, "%d of %d chunks matched\n", len(found), len(ix.Chunks()))
			return nil
		},
	}
	cmd.Flags().String("reference", "", "Reference document (markdown, text or PDF)")
	cmd.Flags().Int("top-k", reference.DefaultTopK, "Number of chunks to return")
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.MarkFlagRequired("reference")
	return cmd
}

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit FILE",
		Short: "Apply one line edit to a document, keeping a backup",
		Example: `  formula-correct edit analysis.md --op replace --start 12 --content '$$E = mc^2$$'
  formula-correct edit analysis.md --op delete --start 4 --end 6 --hash 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := loadSettings(cmd); err != nil {
				return err
			}

			op, err := operationFromFlags(cmd)
			if err != nil {
				return err
			}

			text, err := document.ReadText(path)
			if err != nil {
				return err
			}
			ed := editor.New()
			ed.Load(text)
			res := ed.Apply(op)

			w := cmd.OutOrStdout()
			if !res.Success {
				return fmt.Errorf("%s: %s", res.ErrorKind, res.Detail)
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if !dryRun {
				backup, err := writeBack(cmd, path, res.EditedContent)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Backup: %s\n", backup)
			}
			fmt.Fprintf(w, "%s lines %d-%d: +%d -%d\n", res.OperationKind,
				res.AffectedLines.Start, res.AffectedLines.End, res.LinesAdded, res.LinesRemoved)
			fmt.Fprintf(w, "Hash: %s -> %s\n", res.BaseHash, res.NewHash)
			return nil
		},
	}
	cmd.Flags().String("op", "", "Operation: replace, insert_before, insert_after or delete")
	cmd.Flags().Int("start", 0, "First line (1-based)")
	cmd.Flags().Int("end", 0, "Last line, inclusive (replace and delete)")
	cmd.Flags().String("content", "", "New content (replace and insert)")
	cmd.Flags().String("hash", "", "Expected SHA-256 of the document before the edit")
	cmd.Flags().Bool("dry-run", false, "Apply in memory only")
	addKeepBackupsFlag(cmd)
	cmd.MarkFlagRequired("op")
	cmd.MarkFlagRequired("start")
	return cmd
}

func addKeepBackupsFlag(cmd *cobra.Command) {
	cmd.Flags().Int("keep-backups", 0, "Keep only the newest N backups of the document (0 keeps all)")
}

// writeBack replaces path with content after backing it up, then prunes old
// backups when --keep-backups is set.
func writeBack(cmd *cobra.Command, path, content string) (string, error) {
	keep, _ := cmd.Flags().GetInt("keep-backups")
	if keep < 0 {
		return "", fmt.Errorf("--keep-backups must not be negative")
	}

	backups := document.NewBackupManager("")
	backup, err := document.WriteText(path, content, backups)
	if err != nil {
		return "", err
	}
	if keep > 0 {
		if err := backups.CleanupBackups(path, keep); err != nil {
			logger.Warn("failed to prune backups", logger.String("path", path), logger.Err(err))
		}
	}
	return backup, nil
}

// operationFromFlags builds an editor operation. --end and --content are
// only set when given on the command line.
func operationFromFlags(cmd *cobra.Command) (editor.Operation, error) {
	name, _ := cmd.Flags().GetString("op")
	kind, ok := editor.ParseOperationKind(name)
	if !ok {
		return editor.Operation{}, fmt.Errorf("unknown operation %q", name)
	}

	start, _ := cmd.Flags().GetInt("start")
	hash, _ := cmd.Flags().GetString("hash")
	op := editor.Operation{Kind: kind, StartLine: start, ExpectedHash: hash}

	if cmd.Flags().Changed("end") {
		end, _ := cmd.Flags().GetInt("end")
		op.EndLine = &end
	}
	if cmd.Flags().Changed("content") {
		content, _ := cmd.Flags().GetString("content")
		op.NewContent = &content
	}
	return op, nil
}

func newLinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lines FILE",
		Short: "Print numbered lines of a document, as addressed by edit",
		Example: `  formula-correct lines analysis.md --start 10 --end 20
  formula-correct lines analysis.md --grep '\frac'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt("start")
			end, _ := cmd.Flags().GetInt("end")
			pattern, _ := cmd.Flags().GetString("grep")
			if _, err := loadSettings(cmd); err != nil {
				return err
			}

			text, err := document.ReadText(args[0])
			if err != nil {
				return err
			}
			ed := editor.New()
			hash := ed.Load(text)
			w := cmd.OutOrStdout()

			if pattern != "" {
				for _, n := range ed.SearchLines(pattern) {
					line, err := ed.ReadLines(n, n)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%4d | %s\n", n, line[0])
				}
				fmt.Fprintf(w, "Hash: %s\n", hash)
				return nil
			}

			if ed.LineCount() == 0 {
				fmt.Fprintf(w, "(empty document)\nHash: %s\n", hash)
				return nil
			}
			lines, err := ed.ReadLines(start, end)
			if err != nil {
				return err
			}
			for i, line := range lines {
				fmt.Fprintf(w, "%4d | %s\n", start+i, line)
			}
			fmt.Fprintf(w, "Hash: %s\n", hash)
			return nil
		},
	}
	cmd.Flags().Int("start", 1, "First line (1-based)")
	cmd.Flags().Int("end", -1, "Last line, inclusive (-1 for the end of the document)")
	cmd.Flags().String("grep", "", "Only print lines containing this text")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FORMULA",
		Short: "Check a LaTeX formula for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := editor.NewFormulaValidator().Validate(args[0])
			w := cmd.OutOrStdout()
			for _, issue := range check.Issues {
				fmt.Fprintf(w, "%s: %s (column %d)\n", issue.Severity, issue.Message, issue.Column)
			}
			fmt.Fprintln(w, check.Summary())
			if !check.Valid {
				return fmt.Errorf("formula is invalid")
			}
			return nil
		},
	}
}
