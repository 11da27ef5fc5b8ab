// cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/control"
	"github.com/aceteam-ai/jobloop/internal/runner"
	"github.com/aceteam-ai/jobloop/internal/status"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
	noColor     bool // Flag to disable color
)

// requestTimeout bounds one-shot control API calls.
const requestTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Shows the state of a running job loop",
	Long: `Queries the control API of a running job loop and prints its health,
runner state and outcome counters.`,
	Example: `  # Status of the local loop
  jobloop status

  # Status of a loop on another address, without colors
  jobloop status --api=10.0.0.5:7070 --no-color`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		client := apiClient()

		health, healthErr := client.Health(ctx)
		snap, err := client.Status(ctx)
		if err != nil {
			return fmt.Errorf("query status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		headerColor.Fprintf(w, "--- jobloop status (%s) ---\n", apiAddr)
		printHealth(w, health, healthErr)
		printSnapshot(w, snap)
		return nil
	},
}

func printHealth(w io.Writer, health *control.HealthResponse, err error) {
	headerColor.Fprintln(w, "\nHEALTH")
	switch {
	case health != nil && health.Status == control.HealthStatusOK:
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("API"), goodColor.Sprint("ok"))
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Version"), health.Version)
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Store"), goodColor.Sprint(health.Store))
	case health != nil && health.Status == control.HealthStatusDegraded:
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("API"), warnColor.Sprint("degraded"))
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Version"), health.Version)
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Store"), badColor.Sprint(health.Store))
	default:
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("API"), badColor.Sprintf("unreachable (%v)", err))
	}
	if health != nil && health.Host != nil {
		printHost(w, health.Host)
	}
}

func printHost(w io.Writer, h *status.HostMetrics) {
	headerColor.Fprintln(w, "\nHOST")
	if h.Hostname != "" {
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Hostname"), h.Hostname)
	}
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Uptime"), (time.Duration(h.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("CPU"), usageColor(h.CPUPercent).Sprintf("%.1f%%", h.CPUPercent))
	fmt.Fprintf(w, "  %s:\t%s (%.1f / %.1f GB)\n", labelColor.Sprint("Memory"),
		usageColor(h.MemoryPercent).Sprintf("%.1f%%", h.MemoryPercent), h.MemoryUsedGB, h.MemoryTotalGB)
	fmt.Fprintf(w, "  %s:\t%s (%.1f / %.1f GB on %s)\n", labelColor.Sprint("Disk"),
		usageColor(h.DiskPercent).Sprintf("%.1f%%", h.DiskPercent), h.DiskUsedGB, h.DiskTotalGB, h.DiskPath)
}

func usageColor(percent float64) *color.Color {
	switch {
	case percent >= 90:
		return badColor
	case percent >= 75:
		return warnColor
	default:
		return goodColor
	}
}

func printSnapshot(w io.Writer, snap runner.Snapshot) {
	headerColor.Fprintln(w, "\nRUNNER")
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("State"), stateColor(snap.State).Sprint(snap.State))
	if snap.AlarmPending {
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Alarm"), "armed")
	}
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Polls"), snap.Polls)
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Empty polls"), snap.EmptyFetches)

	headerColor.Fprintln(w, "\nOUTCOMES")
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Completed"), goodColor.Sprint(snap.Completed))
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Not completed"), warnColor.Sprint(snap.NotCompleted))
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Failed"), badColor.Sprint(snap.Failed))
}

func stateColor(s runner.State) *color.Color {
	switch s {
	case runner.StateHalted:
		return warnColor
	case runner.StateExecuting, runner.StatePolling:
		return goodColor
	default:
		return labelColor
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable color output")
}
