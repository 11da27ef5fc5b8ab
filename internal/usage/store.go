// Package usage keeps a local history of job outcomes in SQLite.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id        TEXT NOT NULL,
    company_id    TEXT NOT NULL DEFAULT '',
    job_type      TEXT NOT NULL,
    retry         INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    completed_at  TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    worker_id     TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_job ON job_outcomes(job_id);
`

// DefaultLimit caps history queries when Filter.Limit is zero.
const DefaultLimit = 50

// Store provides SQLite-backed storage for outcome records.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the history database at dbPath and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	// WAL lets `jobloop history` read while the runner writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert stores an outcome record.
func (s *Store) Insert(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO job_outcomes (
			job_id, company_id, job_type, retry, status,
			started_at, completed_at, duration_ms,
			error_message, worker_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.CompanyID, r.JobType, r.Retry, r.Status,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.CompletedAt.UTC().Format(time.RFC3339Nano), r.DurationMs,
		r.ErrorMessage, r.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("insert outcome record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *Store) Query(f Filter) ([]Record, error) {
	var where []string
	var args []any
	if f.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, f.JobID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `
		SELECT id, job_id, company_id, job_type, retry, status,
		       started_at, completed_at, duration_ms,
		       error_message, worker_id
		FROM job_outcomes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var startedAt, completedAt string
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.CompanyID, &r.JobType, &r.Retry, &r.Status,
			&startedAt, &completedAt, &r.DurationMs,
			&r.ErrorMessage, &r.WorkerID,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			r.CompletedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Counts returns the number of records per status.
func (s *Store) Counts() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
