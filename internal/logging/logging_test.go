package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestActivityFn(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	activity := ActivityFn(logger)
	activity("success", "job done")
	activity("warning", "slow")
	activity("unknown", "plain")

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if lines[0]["level"] != "info" || lines[0]["success"] != true {
		t.Errorf("success line = %v", lines[0])
	}
	if lines[1]["level"] != "warn" {
		t.Errorf("warning line = %v", lines[1])
	}
	if lines[2]["level"] != "info" || lines[2]["message"] != "plain" {
		t.Errorf("unknown level line = %v", lines[2])
	}
}

func TestTraceFnRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, _ := New(Config{Level: "info", Format: "json"}, &buf)
	TraceFn(logger)("getJob")
	if buf.Len() != 0 {
		t.Errorf("trace line logged at info level: %q", buf.String())
	}

	buf.Reset()
	logger, _, _ = New(Config{Level: "debug", Format: "json"}, &buf)
	TraceFn(logger)("job-1: started")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["component"] != "runner" || lines[0]["message"] != "job-1: started" {
		t.Errorf("trace lines = %v", lines)
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jobloop.log")
	var buf bytes.Buffer
	logger, closer, err := New(Config{File: path}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info().Msg("hello file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(buf.String(), "hello file") {
		t.Errorf("console output = %q", buf.String())
	}
}
