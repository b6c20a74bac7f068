package pipeline

// state.go implements the StateService, the only component allowed to mutate
// job lifecycle state, progress counters and stage-local state. It enforces
// the fixed transition edges, decides the terminal state at finish time and
// emits a notification on every transition.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// transitions is the closed set of lifecycle edges. Failed is reachable from
// every non-terminal state and handled separately in Fail.
var transitions = map[JobState][]JobState{
	StatePending:        {StateValidatingFile, StateRunning},
	StateValidatingFile: {StateReadingFile},
	StateReadingFile:    {StateRunning},
	StateRunning:        {StateWritingFile, StateCompleted, StateCompletedWithErrors},
	StateWritingFile:    {StateCompleted, StateCompletedWithErrors},
}

// Notification describes one lifecycle transition.
type Notification struct {
	JobID   uuid.UUID
	Profile string
	From    JobState
	To      JobState
	At      time.Time
}

// NotifyFunc receives state-change notifications. Callbacks run synchronously
// on the transitioning goroutine and must not block.
type NotifyFunc func(Notification)

// StateService mutates job lifecycle state, progress and stage-local state on
// behalf of the stage handlers.
type StateService struct {
	jobs JobStore
	now  func() time.Time

	mu   sync.RWMutex
	subs []NotifyFunc
}

// NewStateService creates a StateService backed by the given store.
func NewStateService(jobs JobStore) *StateService {
	return &StateService{jobs: jobs, now: time.Now}
}

// Subscribe registers a callback invoked on every lifecycle transition.
func (s *StateService) Subscribe(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *StateService) notify(n Notification) {
	s.mu.RLock()
	subs := make([]NotifyFunc, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(n)
	}
}

// Transition moves the job along a fixed edge. Transitioning to the current
// state is a no-op, which keeps redelivered messages harmless.
func (s *StateService) Transition(ctx context.Context, job *Job, to JobState) error {
	if job.State == to {
		return nil
	}
	if !edgeAllowed(job.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, to)
	}

	if err := s.jobs.UpdateState(ctx, job.ID, to); err != nil {
		return err
	}
	now := s.now()
	if job.StartedAt == nil {
		if err := s.jobs.MarkStarted(ctx, job.ID, now); err != nil {
			return err
		}
		job.StartedAt = &now
	}

	from := job.State
	job.State = to
	s.notify(Notification{JobID: job.ID, Profile: job.Profile, From: from, To: to, At: now})
	return nil
}

func edgeAllowed(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StartRun transitions the job to Running and fixes totalItems for the rest
// of the run.
func (s *StateService) StartRun(ctx context.Context, job *Job, totalItems int64) error {
	if err := s.Transition(ctx, job, StateRunning); err != nil {
		return err
	}
	if err := s.jobs.StartRun(ctx, job.ID, totalItems); err != nil {
		return err
	}
	job.TotalItems = totalItems
	return nil
}

// IncrementProgress adds delta to the job's progress counter and reports
// whether the run is complete. chunk is the first row number of the range
// being accounted; a range that was already counted contributes zero, which
// keeps redelivered chunk messages from reaching totalItems early. The
// increment is atomic in the store, so concurrent chunk workers never lose
// updates.
func (s *StateService) IncrementProgress(ctx context.Context, job *Job, chunk, delta int64) (bool, error) {
	if delta <= 0 {
		return job.TotalItems > 0 && job.CurrentItem >= job.TotalItems, nil
	}
	current, total, err := s.jobs.IncrementProgress(ctx, job.ID, chunk, delta)
	if err != nil {
		return false, err
	}
	job.CurrentItem = current
	job.TotalItems = total
	return total > 0 && current >= total, nil
}

// SetStageState persists the stage-local cursor.
func (s *StateService) SetStageState(ctx context.Context, job *Job, st StageState) error {
	if err := s.jobs.SetStageState(ctx, job.ID, st); err != nil {
		return err
	}
	job.StageState = st
	return nil
}

// ClearStageState resets the stage-local cursor when a stage hands off.
func (s *StateService) ClearStageState(ctx context.Context, job *Job) error {
	return s.SetStageState(ctx, job, nil)
}

// FinishRun moves the job to its terminal success state: Completed when no
// error-level log entries exist, CompletedWithErrors otherwise.
func (s *StateService) FinishRun(ctx context.Context, job *Job) error {
	hasErrors, err := s.jobs.HasErrorEntries(ctx, job.ID)
	if err != nil {
		return err
	}
	state := StateCompleted
	if hasErrors {
		state = StateCompletedWithErrors
	}
	return s.finish(ctx, job, state)
}

// Fail moves the job to Failed, appending the given diagnostic entries.
// Failing an already-terminal job is a no-op.
func (s *StateService) Fail(ctx context.Context, job *Job, entries ...LogEntry) error {
	if job.State.Terminal() {
		return nil
	}
	if len(entries) > 0 {
		if err := s.jobs.AppendLog(ctx, job.ID, entries); err != nil {
			return err
		}
	}
	return s.finish(ctx, job, StateFailed)
}

func (s *StateService) finish(ctx context.Context, job *Job, state JobState) error {
	now := s.now()
	if err := s.jobs.Finish(ctx, job.ID, state, now); err != nil {
		return err
	}
	from := job.State
	job.State = state
	job.CompletedAt = &now
	s.notify(Notification{JobID: job.ID, Profile: job.Profile, From: from, To: state, At: now})

	slog.Info("job finished",
		"job_id", job.ID,
		"profile", job.Profile,
		"state", state,
		"items", job.CurrentItem,
	)
	return nil
}
