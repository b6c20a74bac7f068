package pipeline

// service.go is the outward-facing job API: create a job and kick off its
// first stage message, query its record and log, delete it. Deleting a job
// mid-flight is legal; the scheduler discards its remaining messages.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service exposes job creation and queries to outer layers.
type Service struct {
	jobs  JobStore
	rows  RowStore
	sched *Scheduler
	now   func() time.Time
}

// NewService creates the job service.
func NewService(jobs JobStore, rows RowStore, sched *Scheduler) *Service {
	return &Service{jobs: jobs, rows: rows, sched: sched, now: time.Now}
}

// CreateJobRequest carries the parameters for a new run.
type CreateJobRequest struct {
	Kind    JobKind   `json:"kind"`
	Profile string    `json:"profile"`
	Config  JobConfig `json:"config"`
}

// CreateJob validates the request against the bound profile, persists a
// Pending job record and enqueues its first stage message. Configuration
// errors are accumulated and returned as a single ValidationErrors value.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	var errs ValidationErrors
	if !req.Kind.Valid() {
		errs = append(errs, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", req.Kind)})
	}

	profile, ok := GetProfile(req.Profile)
	if !ok {
		errs = append(errs, ValidationError{Field: "profile", Message: fmt.Sprintf("unknown profile %q", req.Profile)})
	}

	if ok && req.Kind.Valid() {
		switch req.Kind {
		case KindImport:
			if profile.Importer == nil {
				errs = append(errs, ValidationError{Field: "profile", Message: fmt.Sprintf("profile %q cannot import", req.Profile)})
			} else {
				errs = append(errs, profile.Importer.ValidateConfig(req.Config)...)
			}
		case KindExport:
			if profile.Exporter == nil {
				errs = append(errs, ValidationError{Field: "profile", Message: fmt.Sprintf("profile %q cannot export", req.Profile)})
			} else {
				errs = append(errs, profile.Exporter.ValidateConfig(req.Config)...)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	now := s.now()
	job := &Job{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Profile:   req.Profile,
		State:     StatePending,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Kind == KindExport && job.Config.FileName == "" {
		if fn, ok := profile.Exporter.(FileNamer); ok {
			job.Config.FileName = fn.FileName(job.Config)
		}
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.sched.Start(ctx, job); err != nil {
		return nil, fmt.Errorf("start job %s: %w", job.ID, err)
	}

	slog.Info("job created",
		"job_id", job.ID,
		"kind", job.Kind,
		"profile", job.Profile,
	)
	return job, nil
}

// GetJob returns the job record.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.jobs.Get(ctx, id)
}

// JobLog returns the job's append-only log entries.
func (s *Service) JobLog(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.jobs.Logs(ctx, id)
}

// DeleteJob removes the job record and purges its staged rows. Messages
// still in flight for the job become deliberate no-ops.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := s.jobs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.rows.Purge(ctx, id); err != nil {
		return fmt.Errorf("purge rows for job %s: %w", id, err)
	}
	slog.Info("job deleted", "job_id", id)
	return nil
}
