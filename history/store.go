// Package history keeps a SQLite log of finished conversion jobs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one finished job.
type Record struct {
	ID         string    `json:"id"`
	Input      string    `json:"input"`
	Encoder    string    `json:"encoder"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	HasAudio   bool      `json:"has_audio"`
	RGBDPath   string    `json:"rgbd_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// timeLayout is fixed width so text order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages job history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var migrations = []struct {
	version string
	sql     string
}{
	{
		version: "0001_jobs",
		sql: `CREATE TABLE jobs (
            id TEXT PRIMARY KEY,
            input TEXT NOT NULL,
            encoder TEXT NOT NULL,
            started_at TEXT NOT NULL,
            finished_at TEXT NOT NULL,
            success INTEGER NOT NULL,
            has_audio INTEGER NOT NULL,
            rgbd_path TEXT NOT NULL DEFAULT '',
            error TEXT NOT NULL DEFAULT ''
        )`,
	},
	{
		version: "0002_jobs_finished_idx",
		sql:     `CREATE INDEX jobs_finished_at ON jobs (finished_at)`,
	},
}

// Open initializes or connects to the history database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) applyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, migration := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", migration.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, migration.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.version); err != nil {
			return fmt.Errorf("record migration %s: %w", migration.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// Add stores a finished job.
func (s *Store) Add(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, input, encoder, started_at, finished_at, success, has_audio, rgbd_path, error
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.Input,
		r.Encoder,
		r.StartedAt.UTC().Format(timeLayout),
		r.FinishedAt.UTC().Format(timeLayout),
		boolToInt(r.Success),
		boolToInt(r.HasAudio),
		r.RGBDPath,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, input, encoder, started_at, finished_at, success, has_audio, rgbd_path, error
        FROM jobs ORDER BY finished_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                 Record
			started, finished string
			success, hasAudio int
		)
		if err := rows.Scan(&r.ID, &r.Input, &r.Encoder, &started, &finished, &success, &hasAudio, &r.RGBDPath, &r.Error); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at for %s: %w", r.ID, err)
		}
		r.Success = success != 0
		r.HasAudio = hasAudio != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
