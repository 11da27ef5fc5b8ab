// cmd/history.go
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/config"
	"github.com/aceteam-ai/jobloop/internal/usage"
)

var (
	historyJobID  string
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded job outcomes",
	Long: `Reads the local outcome history written by "jobloop run". Every processing
attempt is recorded, so a job that was retried appears once per attempt.`,
	Example: `  # Latest outcomes
  jobloop history

  # Every attempt of one job
  jobloop history --job=6f1c2a9e-...

  # Only failures
  jobloop history --status=failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if !cfg.Usage.Enabled {
			return fmt.Errorf("outcome history is disabled (usage.enabled=false)")
		}
		if _, err := os.Stat(cfg.Usage.Path); os.IsNotExist(err) {
			fmt.Println("No history recorded yet.")
			return nil
		}

		history, err := usage.OpenStore(cfg.Usage.Path)
		if err != nil {
			return err
		}
		defer history.Close()

		records, err := history.Query(usage.Filter{JobID: historyJobID, Status: historyStatus, Limit: historyLimit})
		if err != nil {
			return err
		}
		counts, err := history.Counts()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		headerColor.Fprintf(w, "--- Outcome history (%s) ---\n", cfg.Usage.Path)
		fmt.Fprintf(w, "  %s %s  %s %s  %s %s\n\n",
			labelColor.Sprint("completed:"), goodColor.Sprint(counts[usage.OutcomeCompleted]),
			labelColor.Sprint("not completed:"), warnColor.Sprint(counts[usage.OutcomeNotCompleted]),
			labelColor.Sprint("failed:"), badColor.Sprint(counts[usage.OutcomeFailed]))

		if len(records) == 0 {
			fmt.Fprintln(w, "No matching records.")
			return nil
		}
		fmt.Fprintln(w, labelColor.Sprint("FINISHED\tJOB\tTYPE\tRETRY\tOUTCOME\tDURATION\tWORKER\tERROR"))
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				r.CompletedAt.Local().Format(time.DateTime), r.JobID, r.JobType, r.Retry,
				outcomeColor(r.Status).Sprint(r.Status),
				(time.Duration(r.DurationMs) * time.Millisecond).String(),
				r.WorkerID, truncate(r.ErrorMessage, 60))
		}
		return nil
	},
}

func outcomeColor(status string) *color.Color {
	switch status {
	case usage.OutcomeCompleted:
		return goodColor
	case usage.OutcomeFailed:
		return badColor
	default:
		return warnColor
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyJobID, "job", "", "Only attempts of this job")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only this outcome (completed, not_completed, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", usage.DefaultLimit, "Maximum number of records")
	historyCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable color output")
}
