// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aceteam-ai/jobloop/internal/config"
	"github.com/aceteam-ai/jobloop/internal/control"
	"github.com/aceteam-ai/jobloop/internal/logging"
	"github.com/aceteam-ai/jobloop/internal/status"
	"github.com/aceteam-ai/jobloop/internal/store"
	"github.com/aceteam-ai/jobloop/internal/store/memory"
	redisstore "github.com/aceteam-ai/jobloop/internal/store/redis"
	"github.com/aceteam-ai/jobloop/internal/store/sqlite"
	"github.com/aceteam-ai/jobloop/internal/usage"
	"github.com/aceteam-ai/jobloop/internal/worker"
)

var (
	runStoreDriver string
	runTickRate    time.Duration
	runNoAPI       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job loop and its control API",
	Long: `Starts the job loop against the configured store and serves the control
API until interrupted.

The loop runs one job at a time. After a completed job it polls again
immediately; after an empty poll or a failed job it waits one tick.

Examples:
  # Run with the default SQLite store
  jobloop run

  # Run against Redis Streams
  REDIS_URL=redis://localhost:6379 jobloop run --store=redis

  # Run an in-memory loop with a faster tick
  jobloop run --store=memory --tick=1s`,
	RunE: runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = runStoreDriver
	}
	if cmd.Flags().Changed("tick") {
		cfg.Runner.TickRate = runTickRate
	}
	if cmd.Flags().Changed("api") {
		cfg.Control.Addr = apiAddr
	}
	if debugMode {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	activity := logging.ActivityFn(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	st, err := openStore(ctx, cfg, clock, activity)
	if err != nil {
		return err
	}
	defer st.Close()

	workerID := fmt.Sprintf("jobloop-%s", uuid.New().String()[:8])
	hub := control.NewHub(control.DefaultHistory)

	runnerCfg := worker.RunnerConfig{
		WorkerID:   workerID,
		TickRate:   cfg.Runner.TickRate,
		Clock:      clock,
		ActivityFn: activity,
		LogJob:     fanOut(logging.TraceFn(logger), hub.Publish),
	}

	if cfg.Usage.Enabled {
		history, err := usage.OpenStore(cfg.Usage.Path)
		if err != nil {
			return err
		}
		defer history.Close()
		runnerCfg.JobRecordFn = func(rec usage.Record) {
			if err := history.Insert(rec); err != nil {
				activity("warning", fmt.Sprintf("Failed to record outcome of job %s: %v", rec.JobID, err))
			}
		}
	}

	handlers := worker.CreateHandlers(worker.HandlersConfig{
		ShellEnabled:    cfg.Handlers.Shell.Enabled,
		AllowedCommands: cfg.Handlers.Shell.AllowedCommands,
		ShellTimeout:    cfg.Handlers.Shell.Timeout,
	}, activity)

	r, err := worker.NewRunner(st, handlers, runnerCfg)
	if err != nil {
		return err
	}

	logger.Info().
		Str("worker_id", workerID).
		Str("store", cfg.Store.Driver).
		Dur("tick_rate", cfg.Runner.TickRate).
		Int("handlers", len(handlers)).
		Msg("Starting job loop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	if !runNoAPI {
		srv := control.NewServer(control.ServerConfig{
			Addr:              cfg.Control.Addr,
			Version:           Version,
			SubmitRPS:         cfg.Control.SubmitRPS,
			SubmitBurst:       cfg.Control.SubmitBurst,
			TrustProxyHeaders: cfg.Control.TrustProxyHeaders,
			Host:              status.NewCollector(status.CollectorConfig{DiskPath: dataDir(cfg), Clock: clock}),
			ActivityFn:        activity,
		}, r, st, hub)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	err = g.Wait()
	snap := r.Snapshot()
	logger.Info().
		Uint64("completed", snap.Completed).
		Uint64("not_completed", snap.NotCompleted).
		Uint64("failed", snap.Failed).
		Msg("Job loop stopped")
	return err
}

// openStore opens the job store selected by cfg.Store.Driver.
func openStore(ctx context.Context, cfg config.Config, clock clockwork.Clock, activity func(level, msg string)) (store.Store, error) {
	opts := store.Options{
		MaxRetries: cfg.Store.MaxRetries,
		RetryDelay: cfg.Store.RetryDelay,
		Clock:      clock,
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		activity("warning", "Using in-memory store; jobs are lost on exit")
		return memory.New(opts), nil
	case config.DriverRedis:
		Debug("redis store: %s stream=%s group=%s", cfg.Store.Redis.URL, cfg.Store.Redis.Stream, cfg.Store.Redis.Group)
		return redisstore.Open(ctx, redisstore.Config{
			URL:       cfg.Store.Redis.URL,
			Password:  cfg.Store.Redis.Password,
			Stream:    cfg.Store.Redis.Stream,
			Group:     cfg.Store.Redis.Group,
			ClaimIdle: cfg.Store.Redis.ClaimIdle,
			Activity:  activity,
		}, opts)
	default:
		Debug("sqlite store: %s", cfg.Store.SQLite.Path)
		return sqlite.Open(cfg.Store.SQLite.Path, opts)
	}
}

// dataDir is the directory whose disk usage /health reports.
func dataDir(cfg config.Config) string {
	if cfg.Store.Driver == config.DriverSQLite {
		return filepath.Dir(cfg.Store.SQLite.Path)
	}
	return config.Dir()
}

// fanOut sends each trace line to every sink.
func fanOut(sinks ...func(string)) func(string) {
	return func(msg string) {
		for _, sink := range sinks {
			sink(msg)
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runStoreDriver, "store", "", "Job store: sqlite, redis or memory (overrides config)")
	runCmd.Flags().DurationVar(&runTickRate, "tick", 0, "Backoff delay after an empty poll or failed job (overrides config)")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "Do not serve the control API")
}
