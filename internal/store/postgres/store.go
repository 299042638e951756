// Package postgres provides the Postgres-backed run history recorder.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

// Expected schema:
//
//	CREATE TABLE harvest_runs (
//	    id          UUID PRIMARY KEY,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ,
//	    status      TEXT NOT NULL,
//	    error_text  TEXT
//	);
//
//	CREATE TABLE harvest_keyword_results (
//	    run_id      UUID NOT NULL REFERENCES harvest_runs (id),
//	    field       TEXT NOT NULL,
//	    keyword     TEXT NOT NULL,
//	    total_urls  INT NOT NULL,
//	    downloaded  INT NOT NULL,
//	    failed      INT NOT NULL,
//	    save_path   TEXT,
//	    error_text  TEXT,
//	    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes run and keyword-result rows into Postgres. It satisfies
// harvest.Recorder.
type Store struct {
	pool execCloser
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool builds a Store around an existing pool; tests inject pgxmock
// through it.
func NewWithPool(pool execCloser) *Store {
	return &Store{pool: pool}
}

// BeginRun inserts the run row in the running state.
func (s *Store) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, 'running')
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordKeyword appends one keyword result row.
func (s *Store) RecordKeyword(ctx context.Context, runID string, result harvest.KeywordResult) error {
	query := `
		INSERT INTO harvest_keyword_results
			(run_id, field, keyword, total_urls, downloaded, failed, save_path, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.pool.Exec(ctx, query,
		runID,
		result.Field,
		result.Keyword,
		result.TotalURLsFound,
		result.DownloadedCount,
		result.FailedCount,
		result.SavePath,
		result.Error,
	)
	if err != nil {
		return fmt.Errorf("insert keyword result: %w", err)
	}
	return nil
}

// FinishRun marks the run terminal.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, status, errText string) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $2, status = $3, error_text = $4
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, runID, finishedAt, status, errText); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
