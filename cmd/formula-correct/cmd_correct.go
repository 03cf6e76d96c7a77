package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"formula-corrector/internal/agent"
	"formula-corrector/internal/diff"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/results"
	"formula-corrector/internal/types"
)

func newCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Run a correction session on an analysis document",
		Example: `  formula-correct correct --analysis analysis.md --reference ocr.md
  formula-correct correct --analysis analysis.md --reference paper.pdf --in-place --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			analysisPath, _ := cmd.Flags().GetString("analysis")
			referencePath, _ := cmd.Flags().GetString("reference")
			inPlace, _ := cmd.Flags().GetBool("in-place")
			save, _ := cmd.Flags().GetBool("save")
			format, _ := cmd.Flags().GetString("format")
			structured, _ := cmd.Flags().GetBool("structured")

			if err := checkFormat(format); err != nil {
				return err
			}

			manager, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			apiKey := manager.GetAPIKey()
			if apiKey == "" {
				return types.NewAppError(types.ErrConfig, "OpenAI API key is not configured; run 'formula-correct config set-key' or set OPENAI_API_KEY", nil)
			}

			agentCfg, err := agentConfig(manager)
			if err != nil {
				return err
			}
			if structured {
				agentCfg.StructuredCompletion = true
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
				Model:   manager.GetModel(),
				APIKey:  apiKey,
				BaseURL: manager.GetBaseURL(),
			})
			if err != nil {
				return types.NewAppError(types.ErrAPICall, "failed to create chat model", err)
			}

			req := agent.Request{
				Analysis:  agent.Source{Path: analysisPath},
				Reference: agent.Source{Path: referencePath},
			}
			store, err := results.NewResultManager(manager.GetResultsDirectory())
			if err != nil {
				return fmt.Errorf("failed to open result store: %w", err)
			}

			res, err := agent.NewOrchestrator(chatModel, agentCfg).Correct(ctx, req)
			trackFailure(store, analysisPath, res, err)
			if err != nil {
				return err
			}

			if err := printResult(cmd.OutOrStdout(), res, analysisPath, format); err != nil {
				return err
			}

			if inPlace && res.Changed() {
				backup, err := writeBack(cmd, analysisPath, res.CorrectedContent)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (backup: %s)\n", analysisPath, backup)
			}

			if save {
				info, err := store.SaveRun(res, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved run %s to %s\n", info.SessionID, store.GetRunDir(info.SessionID))
			}

			if res.Status == agent.StatusAborted {
				logger.Warn("session aborted, partial corrections kept", logger.String("session", res.SessionID))
			}
			return nil
		},
	}

	cmd.Flags().String("analysis", "", "Analysis markdown document to correct")
	cmd.Flags().String("reference", "", "OCR reference document (markdown, text or PDF)")
	cmd.Flags().Bool("in-place", false, "Write the corrected document back to --analysis after a backup")
	cmd.Flags().Bool("save", false, "Save the run to the result store")
	cmd.Flags().String("format", "text", "Output format: text, json or yaml")
	cmd.Flags().Bool("structured", false, "Expose the finish_correction tool")
	addKeepBackupsFlag(cmd)
	cmd.MarkFlagRequired("analysis")
	cmd.MarkFlagRequired("reference")
	return cmd
}

// trackFailure records an unfinished correction of analysisPath in the
// failure log, or clears the record once a session completes.
func trackFailure(store *results.ResultManager, analysisPath string, res *agent.Result, runErr error) {
	fl, err := results.NewFailureLog(store.GetBaseDir())
	if err != nil {
		logger.Warn("failure log unavailable", logger.Err(err))
		return
	}

	rec := results.FailureRecord{ID: analysisPath, Input: analysisPath}
	switch {
	case runErr != nil:
		rec.Stage = results.StageLoad
		rec.ErrorMsg = runErr.Error()
	case res.Status == agent.StatusAborted:
		rec.SessionID = res.SessionID
		rec.Stage = results.StageAborted
		rec.ErrorMsg = "session cancelled"
	case !res.IsComplete:
		rec.SessionID = res.SessionID
		rec.Stage = results.StageIncomplete
		rec.ErrorMsg = fmt.Sprintf("stopped by %s", res.StopReason)
	default:
		err = fl.RemoveFailure(analysisPath)
	}
	if rec.Stage != "" {
		err = fl.RecordFailure(rec)
	}
	if err != nil {
		logger.Warn("failed to update failure log", logger.Err(err))
	}
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// printResult writes the session result. The text format ends with a
// unified diff of the document.
func printResult(w io.Writer, res *agent.Result, name, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		data, err := yaml.Marshal(res)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	fmt.Fprintf(w, "Session:     %s\n", res.SessionID)
	fmt.Fprintf(w, "Status:      %s (%s)\n", res.Status, res.StopReason)
	fmt.Fprintf(w, "Complete:    %v\n", res.IsComplete)
	fmt.Fprintf(w, "Formulas:    %d", len(res.Entities))
	if res.DegradedSpans > 0 {
		fmt.Fprintf(w, " (%d skipped)", res.DegradedSpans)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Reference:   %d chunks, %s backend", res.ReferenceChunks, res.ReferenceBackend)
	if res.ReferenceDegraded {
		fmt.Fprint(w, " (degraded: queries return nothing)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Steps:       %d model calls, %d tool calls, %d messages\n", res.StepCount, res.ToolCallCount, res.MessageCount)
	if res.ModelFailures > 0 {
		fmt.Fprintf(w, "Failures:    %d model calls failed\n", res.ModelFailures)
	}

	fmt.Fprintf(w, "\nCorrections (%d):\n", len(res.CorrectionsApplied))
	for i, c := range res.CorrectionsApplied {
		fmt.Fprintf(w, "  %d. %s\n", i+1, c.Message)
	}

	if res.Changed() {
		fmt.Fprintln(w)
		fmt.Fprint(w, diff.Unified(res.OriginalContent, res.CorrectedContent, name, name+" (corrected)", diff.DefaultContext))
	}
	return nil
}
