// Package pipeline implements the import/export batch pipeline: a
// message-driven state machine that moves arbitrarily large data sets through
// validation, ingestion, transformation and emission stages in bounded chunks.
//
// The pipeline survives process restarts and partial failures because all
// progress lives in durable state: the job record, its stage-local cursor and
// the staged row storage. Each enqueued stage message is one atomic tick
// (load job, check timeout, run handler, persist, enqueue follow-ups), so the
// process may crash between any two ticks without corrupting a job beyond the
// last committed transition.
//
// Domain-specific importers and exporters plug in through the narrow
// collaborator contracts in profile.go; this package has no knowledge of
// column mappings, file formats or business rules.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// JobKind distinguishes the two pipeline directions.
type JobKind string

const (
	KindImport JobKind = "import"
	KindExport JobKind = "export"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k == KindImport || k == KindExport
}

// JobState is the lifecycle state of a job. Jobs move through states only via
// the fixed edges validated by the StateService; there are no skips.
type JobState string

const (
	StatePending             JobState = "pending"
	StateValidatingFile      JobState = "validating-file"
	StateReadingFile         JobState = "reading-file"
	StateRunning             JobState = "running"
	StateWritingFile         JobState = "writing-file"
	StateCompleted           JobState = "completed"
	StateCompletedWithErrors JobState = "completed-with-errors"
	StateFailed              JobState = "failed"
)

// Terminal reports whether s is a final state. Terminal jobs are immutable.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithErrors, StateFailed:
		return true
	}
	return false
}

// JobConfig holds the immutable parameters fixed at job creation.
// The pipeline core only reads ReaderName/WriterName and the hints; the
// remaining fields are passed through to the bound profile untouched.
type JobConfig struct {
	// ReaderName and WriterName are the technical names of the registered
	// reader/writer bound to this job. A reader is required for imports,
	// a writer for exports.
	ReaderName string `json:"reader_name,omitempty"`
	WriterName string `json:"writer_name,omitempty"`

	// FileName and ContentType describe the attached input file, if any.
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// TotalItemsHint is the expected row count for an export run. Exports fix
	// totalItems from this hint when the run starts.
	TotalItemsHint int64 `json:"total_items_hint,omitempty"`

	// Locale for profile-generated messages.
	Locale string `json:"locale,omitempty"`

	// Filters are profile-interpreted selection criteria (e.g. a date range
	// for an order export). Opaque to the core.
	Filters map[string]string `json:"filters,omitempty"`
}

// Job is the persisted record of one import or export run.
type Job struct {
	ID      uuid.UUID `json:"id"`
	Kind    JobKind   `json:"kind"`
	Profile string    `json:"profile"`
	State   JobState  `json:"state"`

	// StageState is owned by whichever stage handler currently drives the
	// job. It is nil between stages; no other component interprets it.
	StageState StageState `json:"-"`

	Config JobConfig `json:"config"`

	// CurrentItem never exceeds TotalItems once TotalItems is set, and is
	// non-decreasing within a run. TotalItems is fixed once at run start.
	CurrentItem int64 `json:"current_item"`
	TotalItems  int64 `json:"total_items"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Severity classifies a job log entry. Error-level entries decide whether a
// finished run is Completed or CompletedWithErrors.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one append-only log record attached to a job. RowNumber is set
// for row-scoped business errors and nil for job-scoped entries.
type LogEntry struct {
	Severity  Severity  `json:"severity"`
	RowNumber *int64    `json:"row_number,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RowError builds an error-level log entry scoped to a single row.
func RowError(row int64, message string) LogEntry {
	return LogEntry{Severity: SeverityError, RowNumber: &row, Message: message}
}

// JobError builds an error-level log entry scoped to the whole job.
func JobError(message string) LogEntry {
	return LogEntry{Severity: SeverityError, Message: message}
}
