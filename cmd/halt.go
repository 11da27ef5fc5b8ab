// cmd/halt.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Stop a running loop from picking up new jobs",
	Long: `Halts the job loop. A job that is already executing runs to completion,
but no further polls happen until the loop is resumed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		snap, err := apiClient().Halt(ctx)
		if err != nil {
			return fmt.Errorf("halt: %w", err)
		}
		warnColor.Printf("Job loop halted (state: %s)\n", snap.State)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a halted loop",
	Long: `Resumes a halted job loop. Any remaining backoff is skipped and the loop
polls for work immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		snap, err := apiClient().Resume(ctx)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		goodColor.Printf("Job loop resumed (state: %s)\n", snap.State)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(resumeCmd)
}
