// cmd/submit.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/job"
)

var (
	submitCompany string
	submitType    string
	submitPayload string
	submitDelay   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to a running loop",
	Long: `Inserts a job through the control API. An idle loop polls for it at once;
a loop in backoff picks it up when the backoff ends.`,
	Example: `  # Echo a message
  jobloop submit --company=acme --type=echo --payload='{"message":"hello"}'

  # Run an allow-listed shell command in ten minutes
  jobloop submit --company=acme --type=shell --payload='{"command":"df","args":["-h"]}' --delay=10m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := job.Input{
			CompanyID: submitCompany,
			Type:      submitType,
			Delay:     submitDelay,
		}
		if submitPayload != "" {
			if err := json.Unmarshal([]byte(submitPayload), &in.Payload); err != nil {
				return fmt.Errorf("--payload must be a JSON object: %w", err)
			}
		}
		if err := in.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		j, err := apiClient().Submit(ctx, in)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		goodColor.Printf("Submitted job %s\n", j.ID)
		fmt.Printf("  %s: %s\n", labelColor.Sprint("Type"), j.Type)
		fmt.Printf("  %s: %s\n", labelColor.Sprint("Run at"), j.RunAt.Local().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitCompany, "company", "", "Company the job belongs to")
	submitCmd.Flags().StringVar(&submitType, "type", job.TypeEcho, "Job type (echo, shell)")
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "Job payload as a JSON object")
	submitCmd.Flags().DurationVar(&submitDelay, "delay", 0, "Delay before the job becomes eligible")
	submitCmd.MarkFlagRequired("company")
}
