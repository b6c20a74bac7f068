package pipeline

// scheduler.go is the message consumer entry point. Every enqueued stage
// message lands in Handle exactly as one tick:
//
//  1. load the job (a vanished job silently discards the message)
//  2. check the wall-clock timeout before any handler runs
//  3. dispatch to the stage handler inside a failure boundary that converts
//     any error or panic into a terminal job failure with diagnostic context
//  4. re-load the job (it may have been deleted concurrently)
//  5. enqueue the handler's follow-up messages through the pre-enqueue hooks
//
// Failed jobs are never auto-retried: the message is deliberately not
// requeued because chunk handlers are not proven idempotent against partial
// multi-step side effects beyond the offset model.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cartloom/conveyor/internal/logging"
)

// SchedulerOptions tune the scheduler.
type SchedulerOptions struct {
	// JobTimeout is the wall-clock ceiling measured from the job's first
	// transition. Zero disables the check.
	JobTimeout time.Duration

	// DefaultChunkSize bounds fan-out ranges when a parallelizable importer
	// declares no chunk size.
	DefaultChunkSize int64
}

// Scheduler loads jobs, dispatches stage messages and enqueues the results.
type Scheduler struct {
	jobs     JobStore
	queue    Enqueuer
	state    *StateService
	handlers *Handlers
	timeout  time.Duration
	hooks    []EnqueueHook
	now      func() time.Time
}

// NewScheduler wires a scheduler over the given stores and queue.
func NewScheduler(jobs JobStore, rows RowStore, queue Enqueuer, state *StateService, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		queue:    queue,
		state:    state,
		handlers: NewHandlers(state, rows, opts.DefaultChunkSize),
		timeout:  opts.JobTimeout,
		now:      time.Now,
	}
}

// Use appends a pre-enqueue hook. Hooks run in registration order on every
// enqueued message and may attach transport metadata to the envelope.
func (s *Scheduler) Use(hook EnqueueHook) {
	s.hooks = append(s.hooks, hook)
}

// Start enqueues the first stage message for a freshly created job.
func (s *Scheduler) Start(ctx context.Context, job *Job) error {
	msg, err := entryMessage(job)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, msg)
}

// Handle processes one stage message. It returns an error only for transient
// infrastructure problems (store or queue unavailable); every stage-level
// failure is absorbed into the job record.
func (s *Scheduler) Handle(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		slog.Error("discarding malformed message", "job_id", msg.JobID, "error", err)
		return nil
	}

	job, err := s.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, ErrJobNotFound) {
		// The user deleted the job mid-flight. Deliberate no-op.
		slog.Debug("message for vanished job discarded", "job_id", msg.JobID, "stage", msg.Stage)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}

	log := logging.WithJob(ctx, job.ID, job.Profile)

	if job.State.Terminal() {
		// Terminal jobs are immutable; redelivered or stale messages for
		// them are dropped.
		log.Debug("message for terminal job discarded", "state", job.State)
		return nil
	}

	if s.timeout > 0 && job.StartedAt != nil && s.now().Sub(*job.StartedAt) > s.timeout {
		log.Warn("job timed out", "started_at", job.StartedAt)
		return s.state.Fail(ctx, job,
			JobError(fmt.Sprintf("%s after %s", ErrJobTimeout, s.timeout)))
	}

	start := s.now()
	next, err := s.dispatch(ctx, job, msg)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		log.Error("stage failed", "stage", msg.Stage, "error", err)
		if failErr := s.state.Fail(ctx, job, JobError(fmt.Sprintf("stage %s: %v", msg.Stage, err))); failErr != nil && !errors.Is(failErr, ErrJobNotFound) {
			return failErr
		}
		return nil
	}
	log.Debug("stage handled",
		"stage", msg.Stage,
		"follow_ups", len(next),
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)

	// The job may have been deleted while the handler ran; stop silently
	// rather than enqueue messages for a ghost.
	if _, err := s.jobs.Get(ctx, msg.JobID); errors.Is(err, ErrJobNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("reload job %s: %w", msg.JobID, err)
	}

	for _, m := range next {
		if err := s.enqueue(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// dispatch routes the message to its stage handler. The deferred recover is
// the pipeline's failure boundary: a panic anywhere inside a profile's
// business logic becomes a regular stage failure with stack context instead
// of leaving the job mid-transition.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, msg Message) (next []Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = fmt.Errorf("stage %s panicked: %v\n%s", msg.Stage, r, debug.Stack())
		}
	}()

	switch msg.Stage {
	case StageValidate:
		return s.handlers.validate(ctx, job)
	case StageRead:
		return s.handlers.read(ctx, job)
	case StageImport:
		return s.handlers.importChunk(ctx, job, msg)
	case StageExport:
		return s.handlers.exportChunk(ctx, job)
	case StageWrite:
		return s.handlers.write(ctx, job)
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidMessage, msg.Stage)
	}
}

// enqueue runs the pre-enqueue hooks and hands the envelope to the queue.
func (s *Scheduler) enqueue(ctx context.Context, msg Message) error {
	env := Envelope{Message: msg, Metadata: make(map[string]string)}
	for _, hook := range s.hooks {
		if err := hook(msg, env.Metadata); err != nil {
			slog.Warn("enqueue hook failed", "job_id", msg.JobID, "stage", msg.Stage, "error", err)
		}
	}
	if err := s.queue.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("enqueue %s message for job %s: %w", msg.Stage, msg.JobID, err)
	}
	return nil
}
