// Package sqlite implements the job store on SQLite (modernc.org/sqlite,
// no cgo) through sqlx, with the schema managed by golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aceteam-ai/jobloop/internal/job"
	"github.com/aceteam-ai/jobloop/internal/store"
	"github.com/aceteam-ai/jobloop/internal/store/sqlite/migrations"

	_ "modernc.org/sqlite"
)

var _ store.Store = (*Store)(nil)

// Store is the SQLite job store.
type Store struct {
	db   *sqlx.DB
	opts store.Options
}

// row is the on-disk shape of a job. Times are unix milliseconds so that
// run_at compares numerically.
type row struct {
	ID        string `db:"id"`
	CompanyID string `db:"company_id"`
	Type      string `db:"type"`
	Retry     int    `db:"retry"`
	Payload   string `db:"payload"`
	Status    string `db:"status"`
	Error     string `db:"error"`
	RunAt     int64  `db:"run_at"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

const columns = `id, company_id, type, retry, payload, status, error, run_at, created_at, updated_at`

// execer is satisfied by *sqlx.DB, *sqlx.Tx and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens (or creates) the database at path, applies migrations and
// requeues jobs orphaned in the running state.
func Open(path string, opts store.Options) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := applyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, opts: opts.WithDefaults()}
	if _, err := s.requeueRunning(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// requeueRunning returns jobs left running by a process that exited
// mid-job to pending. Only one loop runs per database, so any running row
// seen at open time is orphaned.
func (s *Store) requeueRunning(ctx context.Context) (int64, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, updated_at = ? WHERE status = ?`,
		job.StatusPending, now, now, job.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	return res.RowsAffected()
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DB exposes the connection so callers can open transactions to pass to
// InsertJob.
func (s *Store) DB() *sqlx.DB { return s.db }

// QueryNextJob claims the oldest runnable pending job inside a transaction.
func (s *Store) QueryNextJob(ctx context.Context) (*job.Job, error) {
	now := s.now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var r row
	err = tx.GetContext(ctx, &r, `
		SELECT `+columns+`
		FROM jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC, rowid ASC
		LIMIT 1`, job.StatusPending, now.UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		job.StatusRunning, now.UnixMilli(), r.ID,
	); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	r.Status = string(job.StatusRunning)
	r.UpdatedAt = now.UnixMilli()
	return r.toJob()
}

// InsertJob stores a new pending job. tx may be nil, a *sqlx.Tx or a
// *sql.Tx opened on DB(); the insert then commits or rolls back with it.
func (s *Store) InsertJob(ctx context.Context, in job.Input, tx any) (*job.Job, error) {
	var exec execer
	switch t := tx.(type) {
	case nil:
		exec = s.db
	case *sqlx.Tx:
		exec = t
	case *sql.Tx:
		exec = t
	default:
		return nil, fmt.Errorf("%w: %T", store.ErrUnsupportedTx, tx)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if in.Payload == nil {
		payload = []byte("{}")
	}

	now := s.now()
	j := &job.Job{
		ID:        uuid.New().String(),
		CompanyID: in.CompanyID,
		Type:      in.Type,
		Payload:   in.Payload,
		Status:    job.StatusPending,
		RunAt:     now.Add(in.Delay),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO jobs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.CompanyID, j.Type, j.Retry, string(payload), j.Status, j.Error,
		j.RunAt.UnixMilli(), j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// MarkCompleted sets the job's status to completed.
func (s *Store) MarkCompleted(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = '', updated_at = ? WHERE id = ?`,
		job.StatusCompleted, s.now().UnixMilli(), j.ID,
	)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", j.ID, err)
	}
	return expectRow(res)
}

// MarkFailed applies the retry policy and persists the outcome.
func (s *Store) MarkFailed(ctx context.Context, j *job.Job, cause error) error {
	now := s.now()
	out := store.NextAttempt(j, cause, s.opts, now)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, retry = ?, run_at = ?, error = ?, updated_at = ? WHERE id = ?`,
		out.Status, out.Retry, out.RunAt.UnixMilli(), out.Error, now.UnixMilli(), j.ID,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", j.ID, err)
	}
	return expectRow(res)
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+columns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return r.toJob()
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	query := `SELECT ` + columns + ` FROM jobs`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.EffectiveLimit())

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*job.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.opts.Clock.Now().UTC()
}

func (r row) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:        r.ID,
		CompanyID: r.CompanyID,
		Type:      r.Type,
		Retry:     r.Retry,
		Status:    job.Status(r.Status),
		Error:     r.Error,
		RunAt:     time.UnixMilli(r.RunAt).UTC(),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Payload != "" && r.Payload != "{}" {
		if err := json.Unmarshal([]byte(r.Payload), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.ID, err)
		}
	}
	return j, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
