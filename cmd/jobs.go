// cmd/jobs.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/control"
	"github.com/aceteam-ai/jobloop/internal/job"
)

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [id]",
	Short: "List jobs, or show one job",
	Example: `  # Latest jobs
  jobloop jobs

  # Failed jobs only
  jobloop jobs --status=failed --limit=10

  # One job as JSON
  jobloop jobs 6f1c2a9e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		client := apiClient()

		if len(args) == 1 {
			j, err := client.GetJob(ctx, args[0])
			if control.IsNotFound(err) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		}

		f := job.Filter{Status: job.Status(jobsStatus), Limit: jobsLimit}
		if f.Status != "" && !f.Status.Valid() {
			return fmt.Errorf("unknown status %q", jobsStatus)
		}
		list, err := client.ListJobs(ctx, f)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, labelColor.Sprint("ID\tCOMPANY\tTYPE\tSTATUS\tRETRY\tRUN AT\tERROR"))
		for _, j := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.CompanyID, j.Type, statusColor(j.Status).Sprint(j.Status),
				j.Retry, j.RunAt.Local().Format(time.DateTime), truncate(j.Error, 60))
		}
		return nil
	},
}

func statusColor(s job.Status) *color.Color {
	switch s {
	case job.StatusCompleted:
		return goodColor
	case job.StatusFailed:
		return badColor
	case job.StatusRunning:
		return headerColor
	default:
		return warnColor
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs with this status (pending, running, completed, failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", job.DefaultListLimit, "Maximum number of jobs to list")
	jobsCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable color output")
}
