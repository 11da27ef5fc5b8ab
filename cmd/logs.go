// cmd/logs.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/jobloop/internal/config"
)

var logsLines int

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the tail of the jobloop log file",
	Long: `Prints the last lines of the log file configured as log.file. When no log
file is configured, the debug log written by --debug is shown instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		path := cfg.Log.File
		if path == "" {
			path = filepath.Join(config.Dir(), "logs", "debug.log")
		}

		f, err := os.Open(path)
		if os.IsNotExist(err) {
			fmt.Printf("No log file at %s\n", path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()

		lines, err := tailLines(f, logsLines)
		if err != nil {
			return err
		}
		headerColor.Printf("--- %s ---\n", path)
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

// tailLines returns the last n lines of r.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return ring, nil
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "Number of lines to show")
}
