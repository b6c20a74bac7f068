package pipeline

// ports.go declares the durable-storage and queue ports the pipeline runs
// against. Implementations live in internal/store (pgx, memory) and
// internal/queue (redis, memory).

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStore persists job records and their log entries. All mutating calls
// must return ErrJobNotFound for unknown ids so the scheduler can detect
// vanished jobs.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateState sets the lifecycle state.
	UpdateState(ctx context.Context, id uuid.UUID, state JobState) error

	// MarkStarted sets started_at if it is not set yet.
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetStageState replaces the stage-local cursor. Nil clears it.
	SetStageState(ctx context.Context, id uuid.UUID, s StageState) error

	// StartRun fixes total_items for the run. The value is never recomputed
	// mid-run so progress cannot regress if rows are concurrently added.
	StartRun(ctx context.Context, id uuid.UUID, totalItems int64) error

	// IncrementProgress atomically adds delta to current_item, capped at
	// total_items, and returns the new counters. chunk identifies the row
	// range being accounted; a chunk already recorded contributes zero, so
	// a redelivered message never double-counts. Recording the chunk and
	// adding the delta must be one serialized read-modify-write: concurrent
	// chunk workers finish close together.
	IncrementProgress(ctx context.Context, id uuid.UUID, chunk, delta int64) (current, total int64, err error)

	// Finish moves the job to a terminal state and stamps completed_at.
	Finish(ctx context.Context, id uuid.UUID, state JobState, at time.Time) error

	AppendLog(ctx context.Context, id uuid.UUID, entries []LogEntry) error
	Logs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)

	// HasErrorEntries reports whether any error-level log entry exists; it
	// decides Completed vs CompletedWithErrors at finish time.
	HasErrorEntries(ctx context.Context, id uuid.UUID) (bool, error)
}

// Row is one staged record in the intermediate row storage. Payload is opaque
// to the core; readers produce it and importers/writers consume it.
type Row struct {
	RowNumber int64           `json:"row_number"`
	Payload   json.RawMessage `json:"payload"`
}

// RowStore is the durable staging area holding parsed rows between the read
// and execute/write stages.
type RowStore interface {
	// Append stages rows for a job. Re-appending a row number overwrites the
	// previous payload, which keeps chunk redelivery idempotent.
	Append(ctx context.Context, jobID uuid.UUID, rows []Row) error

	// Count returns the stable number of staged rows.
	Count(ctx context.Context, jobID uuid.UUID) (int64, error)

	// Slice returns up to limit rows with row_number >= from, ordered.
	Slice(ctx context.Context, jobID uuid.UUID, from, limit int64) ([]Row, error)

	// Purge drops all staged rows of a job.
	Purge(ctx context.Context, jobID uuid.UUID) error
}

// Enqueuer hands an envelope to the message queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env Envelope) error
}
