// Package memory provides in-memory implementations of the pipeline's
// JobStore and RowStore. Used by unit tests and by the dev mode of the
// server; semantics mirror the postgres store, including the atomic capped
// progress increment.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// Store holds jobs, log entries and staged rows behind one mutex.
type Store struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*pipeline.Job
	logs   map[uuid.UUID][]pipeline.LogEntry
	rows   map[uuid.UUID]map[int64]pipeline.Row
	chunks map[uuid.UUID]map[int64]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:   make(map[uuid.UUID]*pipeline.Job),
		logs:   make(map[uuid.UUID][]pipeline.LogEntry),
		rows:   make(map[uuid.UUID]map[int64]pipeline.Row),
		chunks: make(map[uuid.UUID]map[int64]struct{}),
	}
}

func cloneJob(j *pipeline.Job) *pipeline.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Create stores a copy of the job.
func (s *Store) Create(_ context.Context, job *pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns a copy of the job or ErrJobNotFound.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, pipeline.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Delete removes the job and its log entries.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return pipeline.ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.logs, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) locked(id uuid.UUID, fn func(job *pipeline.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return pipeline.ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

// UpdateState sets the lifecycle state.
func (s *Store) UpdateState(_ context.Context, id uuid.UUID, state pipeline.JobState) error {
	return s.locked(id, func(job *pipeline.Job) {
		job.State = state
	})
}

// MarkStarted sets started_at if unset.
func (s *Store) MarkStarted(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.locked(id, func(job *pipeline.Job) {
		if job.StartedAt == nil {
			job.StartedAt = &at
		}
	})
}

// SetStageState replaces the stage-local cursor.
func (s *Store) SetStageState(_ context.Context, id uuid.UUID, st pipeline.StageState) error {
	return s.locked(id, func(job *pipeline.Job) {
		job.StageState = st
	})
}

// StartRun fixes total_items.
func (s *Store) StartRun(_ context.Context, id uuid.UUID, totalItems int64) error {
	return s.locked(id, func(job *pipeline.Job) {
		job.TotalItems = totalItems
	})
}

// IncrementProgress adds delta capped at total_items, atomically under the
// store mutex. A chunk key seen before contributes zero, so redelivered
// chunk messages leave the counters unchanged.
func (s *Store) IncrementProgress(_ context.Context, id uuid.UUID, chunk, delta int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return 0, 0, pipeline.ErrJobNotFound
	}
	done, ok := s.chunks[id]
	if !ok {
		done = make(map[int64]struct{})
		s.chunks[id] = done
	}
	if _, seen := done[chunk]; seen {
		return job.CurrentItem, job.TotalItems, nil
	}
	done[chunk] = struct{}{}
	job.CurrentItem += delta
	if job.TotalItems > 0 && job.CurrentItem > job.TotalItems {
		job.CurrentItem = job.TotalItems
	}
	job.UpdatedAt = time.Now()
	return job.CurrentItem, job.TotalItems, nil
}

// Finish moves the job to a terminal state.
func (s *Store) Finish(_ context.Context, id uuid.UUID, state pipeline.JobState, at time.Time) error {
	return s.locked(id, func(job *pipeline.Job) {
		job.State = state
		job.CompletedAt = &at
	})
}

// AppendLog appends log entries, stamping CreatedAt when unset.
func (s *Store) AppendLog(_ context.Context, id uuid.UUID, entries []pipeline.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return pipeline.ErrJobNotFound
	}
	now := time.Now()
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.logs[id] = append(s.logs[id], e)
	}
	return nil
}

// Logs returns the job's log entries in append order.
func (s *Store) Logs(_ context.Context, id uuid.UUID) ([]pipeline.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]pipeline.LogEntry, len(s.logs[id]))
	copy(entries, s.logs[id])
	return entries, nil
}

// HasErrorEntries reports whether any error-level entry exists.
func (s *Store) HasErrorEntries(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.logs[id] {
		if e.Severity == pipeline.SeverityError {
			return true, nil
		}
	}
	return false, nil
}

// Append stages rows; re-appending a row number overwrites it.
func (s *Store) Append(_ context.Context, jobID uuid.UUID, rows []pipeline.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNum, ok := s.rows[jobID]
	if !ok {
		byNum = make(map[int64]pipeline.Row)
		s.rows[jobID] = byNum
	}
	for _, r := range rows {
		byNum[r.RowNumber] = r
	}
	return nil
}

// Count returns the number of staged rows.
func (s *Store) Count(_ context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows[jobID])), nil
}

// Slice returns up to limit rows with row_number >= from, ordered.
func (s *Store) Slice(_ context.Context, jobID uuid.UUID, from, limit int64) ([]pipeline.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Row
	for _, r := range s.rows[jobID] {
		if r.RowNumber >= from {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Purge drops all staged rows of a job.
func (s *Store) Purge(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, jobID)
	return nil
}
