// Package store keeps an optional Postgres ledger of job executions. Redis
// stays the source of truth for queue state; the ledger is for history.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"farm-jobs/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Run is one row of the ledger.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	UserID     string     `json:"userId"`
	WorkerID   string     `json:"workerId"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  *string    `json:"lastError,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RecordStart marks a job instance active. A retried instance reuses its row.
func (s *Store) RecordStart(ctx context.Context, job models.Job, workerID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO job_runs (id, kind, user_id, worker_id, status, attempts, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE
		SET worker_id = EXCLUDED.worker_id, status = EXCLUDED.status,
		    attempts = EXCLUDED.attempts, started_at = NOW(), finished_at = NULL
	`, job.ID, string(job.Kind), job.Payload.UserID, workerID, models.StateActive, job.Attempts+1)
	if err != nil {
		return fmt.Errorf("upsert job run: %w", err)
	}
	if err := appendAudit(ctx, tx, job.ID, "started", "worker="+workerID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordFinish stores the outcome of one attempt. state is completed,
// failed (retries exhausted) or waiting (a retry is scheduled).
func (s *Store) RecordFinish(ctx context.Context, job models.Job, state string, errMsg string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE job_runs
		SET status = $2, attempts = $3, last_error = $4,
		    finished_at = CASE WHEN $5 THEN NOW() ELSE NULL END
		WHERE id = $1
	`, job.ID, state, job.Attempts+1, emptyToNil(errMsg), state != models.StateWaiting)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job run %s was never started", job.ID)
	}
	if err := appendAudit(ctx, tx, job.ID, state, errMsg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	return appendAudit(ctx, s.pool, jobID, event, detail)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendAudit(ctx context.Context, db execer, jobID, event, detail string) error {
	if _, err := db.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// RecentRuns lists the newest runs of kind, or of every kind when kind is empty.
func (s *Store) RecentRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, user_id, worker_id, status, attempts, last_error, started_at, finished_at
		FROM job_runs
		WHERE $1 = '' OR kind = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var lastErr pgtype.Text
		var finished pgtype.Timestamptz
		if err := rows.Scan(&r.ID, &r.Kind, &r.UserID, &r.WorkerID, &r.Status, &r.Attempts, &lastErr, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		r.LastError = textPtr(lastErr)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AuditTrail returns the events recorded for one job, oldest first.
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event FROM audit_logs WHERE job_id = $1 ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
