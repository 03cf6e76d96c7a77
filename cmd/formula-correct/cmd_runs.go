package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"formula-corrector/internal/results"
)

func openStore(cmd *cobra.Command) (*results.ResultManager, error) {
	manager, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return results.NewResultManager(manager.GetResultsDirectory())
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect saved correction runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsDeleteCmd(), newRunsFailuresCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			analysis, _ := cmd.Flags().GetString("analysis")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}

			var runs []*results.RunInfo
			if analysis != "" {
				sum, err := results.CalculateFileMD5(analysis)
				if err != nil {
					return fmt.Errorf("failed to hash %s: %w", analysis, err)
				}
				runs, err = store.FindByAnalysisMD5(sum)
				if err != nil {
					return err
				}
			} else {
				runs, err = store.ListRuns()
				if err != nil {
					return err
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCREATED\tSTATUS\tREASON\tCORRECTIONS\tANALYSIS")
			for _, r := range runs {
				analysis := r.AnalysisPath
				if analysis == "" {
					analysis = "(inline) " + shortMD5(r.AnalysisMD5)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.SessionID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.StopReason, r.Corrections, analysis)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().String("analysis", "", "Only list runs made on this analysis file")
	return cmd
}

// shortMD5 abbreviates a hash for listings. Metadata written by hand may
// carry a short or empty value.
func shortMD5(sum string) string {
	if sum == "" {
		return "-"
	}
	if len(sum) > 8 {
		return sum[:8]
	}
	return sum
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show SESSION",
		Short: "Print the report of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corrected, _ := cmd.Flags().GetBool("corrected")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			if !store.RunExists(args[0]) {
				return fmt.Errorf("run %s not found in %s", args[0], store.GetBaseDir())
			}

			w := cmd.OutOrStdout()
			if corrected {
				content, err := store.LoadCorrected(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(w, content)
				return err
			}

			report, err := store.LoadReport(args[0])
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().Bool("corrected", false, "Print the corrected document instead of the report")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION...",
		Short: "Delete saved runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			for _, id := range args {
				if _, err := store.LoadRunInfo(id); err != nil {
					return fmt.Errorf("run %s not found in %s", id, store.GetBaseDir())
				}
				if err := store.DeleteRun(id); err != nil {
					return fmt.Errorf("failed to delete run %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
			}
			return nil
		},
	}
}

func openFailureLog(cmd *cobra.Command) (*results.FailureLog, error) {
	store, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	return results.NewFailureLog(store.GetBaseDir())
}

func newRunsFailuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List documents whose last correction did not complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			clearAll, _ := cmd.Flags().GetBool("clear")
			fl, err := openFailureLog(cmd)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if clearAll {
				if err := fl.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintln(w, "Failure log cleared.")
				return nil
			}

			records := fl.ListFailures()
			if len(records) == 0 {
				fmt.Fprintln(w, "No failed corrections.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT\tSTAGE\tRETRIES\tWHEN\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					r.Input, r.Stage, r.RetryCount, r.Timestamp.Format("2006-01-02 15:04:05"), r.ErrorMsg)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("clear", false, "Remove all failure records")
	cmd.AddCommand(newRunsFailuresShowCmd())
	return cmd
}

func newRunsFailuresShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show DOCUMENT",
		Short: "Print the failure record of one analysis document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl, err := openFailureLog(cmd)
			if err != nil {
				return err
			}
			rec, ok := fl.GetFailure(args[0])
			if !ok {
				return fmt.Errorf("no failure recorded for %s", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}
