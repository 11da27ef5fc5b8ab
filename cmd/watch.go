// cmd/watch.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/control"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the trace of a running loop",
	Long: `Connects to the control API's event stream and prints each runner trace
line as it happens. Recent lines are replayed first. Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		headerColor.Printf("--- Watching %s (Ctrl+C to stop) ---\n", apiAddr)
		return apiClient().Watch(ctx, func(ev control.Event) {
			fmt.Printf("%s  %s\n", labelColor.Sprint(ev.Time.Local().Format("15:04:05.000")), ev.Line)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
