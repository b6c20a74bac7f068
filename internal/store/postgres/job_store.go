// Package postgres persists job records, log entries and staged rows in
// PostgreSQL via pgx. The progress increment is a single UPDATE capped at
// total_items, serialized by row-level locking, so concurrent chunk workers
// never lose updates.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// JobStore implements pipeline.JobStore on PostgreSQL.
type JobStore struct {
	db DBTX
}

// NewJobStore creates a JobStore over a pool or transaction.
func NewJobStore(db DBTX) *JobStore {
	return &JobStore{db: db}
}

// NewPool opens a pgx pool with the given settings and verifies the
// connection.
func NewPool(ctx context.Context, url string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Create inserts a Pending job record.
func (s *JobStore) Create(ctx context.Context, job *pipeline.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	const q = `
INSERT INTO import_export_job
	(id, kind, profile, state, config, current_item, total_items, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8);
`
	_, err = s.db.Exec(ctx, q,
		job.ID, string(job.Kind), job.Profile, string(job.State),
		config, job.CurrentItem, job.TotalItems, job.CreatedAt,
	)
	return err
}

// Get loads a job record, including its stage-local cursor.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*pipeline.Job, error) {
	const q = `
SELECT id, kind, profile, state, stage_state, config,
	current_item, total_items, started_at, completed_at, created_at, updated_at
FROM import_export_job
WHERE id = $1;
`
	var (
		job        pipeline.Job
		kind       string
		state      string
		stageState []byte
		config     []byte
	)
	err := s.db.QueryRow(ctx, q, id).Scan(
		&job.ID, &kind, &job.Profile, &state, &stageState, &config,
		&job.CurrentItem, &job.TotalItems,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Kind = pipeline.JobKind(kind)
	job.State = pipeline.JobState(state)
	if job.StageState, err = pipeline.DecodeStageState(stageState); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	return &job, nil
}

// Delete removes the job; its log entries go with it (ON DELETE CASCADE).
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM import_export_job WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) exec(ctx context.Context, q string, args ...interface{}) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrJobNotFound
	}
	return nil
}

// UpdateState sets the lifecycle state.
func (s *JobStore) UpdateState(ctx context.Context, id uuid.UUID, state pipeline.JobState) error {
	const q = `UPDATE import_export_job SET state = $2, updated_at = now() WHERE id = $1;`
	return s.exec(ctx, q, id, string(state))
}

// MarkStarted sets started_at once.
func (s *JobStore) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `
UPDATE import_export_job
SET started_at = COALESCE(started_at, $2), updated_at = now()
WHERE id = $1;
`
	return s.exec(ctx, q, id, at)
}

// SetStageState replaces the stage-local cursor; nil clears it.
func (s *JobStore) SetStageState(ctx context.Context, id uuid.UUID, st pipeline.StageState) error {
	encoded, err := pipeline.EncodeStageState(st)
	if err != nil {
		return err
	}
	const q = `UPDATE import_export_job SET stage_state = $2, updated_at = now() WHERE id = $1;`
	return s.exec(ctx, q, id, encoded)
}

// StartRun fixes total_items for the run.
func (s *JobStore) StartRun(ctx context.Context, id uuid.UUID, totalItems int64) error {
	const q = `UPDATE import_export_job SET total_items = $2, updated_at = now() WHERE id = $1;`
	return s.exec(ctx, q, id, totalItems)
}

// IncrementProgress atomically advances current_item, capped at total_items
// when a total is set. The chunk key is recorded in completed_chunks inside
// the same UPDATE; a key already present contributes zero, so a redelivered
// chunk message never double-counts. The UPDATE's row lock serializes
// concurrent chunk workers finishing close together.
func (s *JobStore) IncrementProgress(ctx context.Context, id uuid.UUID, chunk, delta int64) (int64, int64, error) {
	const q = `
UPDATE import_export_job
SET current_item = CASE
		WHEN $2 = ANY(completed_chunks) THEN current_item
		WHEN total_items > 0 THEN LEAST(current_item + $3, total_items)
		ELSE current_item + $3
	END,
	completed_chunks = CASE
		WHEN $2 = ANY(completed_chunks) THEN completed_chunks
		ELSE array_append(completed_chunks, $2)
	END,
	updated_at = now()
WHERE id = $1
RETURNING current_item, total_items;
`
	var current, total int64
	err := s.db.QueryRow(ctx, q, id, chunk, delta).Scan(&current, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, pipeline.ErrJobNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	return current, total, nil
}

// Finish moves the job to a terminal state and stamps completed_at.
func (s *JobStore) Finish(ctx context.Context, id uuid.UUID, state pipeline.JobState, at time.Time) error {
	const q = `
UPDATE import_export_job
SET state = $2, completed_at = $3, updated_at = now()
WHERE id = $1;
`
	return s.exec(ctx, q, id, string(state), at)
}

// AppendLog inserts log entries in one batch.
func (s *JobStore) AppendLog(ctx context.Context, id uuid.UUID, entries []pipeline.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
INSERT INTO import_export_job_log (job_id, severity, row_number, message, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()));
`
	for _, e := range entries {
		var created interface{}
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt
		}
		if _, err := s.db.Exec(ctx, q, id, string(e.Severity), e.RowNumber, e.Message, created); err != nil {
			return err
		}
	}
	return nil
}

// Logs returns the job's log entries in append order.
func (s *JobStore) Logs(ctx context.Context, id uuid.UUID) ([]pipeline.LogEntry, error) {
	const q = `
SELECT severity, row_number, message, created_at
FROM import_export_job_log
WHERE job_id = $1
ORDER BY id;
`
	rows, err := s.db.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []pipeline.LogEntry
	for rows.Next() {
		var (
			e        pipeline.LogEntry
			severity string
		)
		if err := rows.Scan(&severity, &e.RowNumber, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = pipeline.Severity(severity)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasErrorEntries reports whether any error-level log entry exists.
func (s *JobStore) HasErrorEntries(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM import_export_job_log
	WHERE job_id = $1 AND severity = 'error'
);
`
	var exists bool
	if err := s.db.QueryRow(ctx, q, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
