package pipeline

// message.go defines the stage message, the unit of work the scheduler
// consumes. Messages carry no business payload: everything a handler needs is
// re-derived from the job record and row storage at handling time, which is
// what makes at-least-once redelivery safe.

import (
	"fmt"

	"github.com/google/uuid"
)

// Stage identifies the pipeline stage a message targets. The set is closed;
// the scheduler dispatches over it exhaustively.
type Stage string

const (
	StageValidate Stage = "validate"
	StageRead     Stage = "read"
	StageImport   Stage = "import"
	StageExport   Stage = "export"
	StageWrite    Stage = "write"
)

// ImportParams are the parameters required by StageImport messages and
// forbidden on every other stage.
type ImportParams struct {
	// NextRow is the first row of the range this message covers (1-based).
	NextRow int64 `json:"next_row"`

	// SpawnFollowUp tells the handler to enqueue the next row range itself.
	// Fan-out messages for parallelizable imports disable it because all
	// ranges are enumerated up front by the generator.
	SpawnFollowUp bool `json:"spawn_follow_up"`
}

// Message is an immutable unit of work: a job id, a target stage and
// stage-specific parameters. Construct messages via NewMessage or
// NewImportMessage so parameter presence is validated up front.
type Message struct {
	JobID  uuid.UUID     `json:"job_id"`
	Stage  Stage         `json:"stage"`
	Import *ImportParams `json:"import,omitempty"`
}

// NewMessage builds a message for a stage that takes no parameters.
func NewMessage(jobID uuid.UUID, stage Stage) (Message, error) {
	m := Message{JobID: jobID, Stage: stage}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewImportMessage builds a StageImport message covering the row range that
// starts at nextRow.
func NewImportMessage(jobID uuid.UUID, nextRow int64, spawnFollowUp bool) (Message, error) {
	m := Message{
		JobID:  jobID,
		Stage:  StageImport,
		Import: &ImportParams{NextRow: nextRow, SpawnFollowUp: spawnFollowUp},
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks that the message's parameters match its declared stage.
func (m Message) Validate() error {
	if m.JobID == uuid.Nil {
		return fmt.Errorf("%w: missing job id", ErrInvalidMessage)
	}
	switch m.Stage {
	case StageImport:
		if m.Import == nil {
			return fmt.Errorf("%w: stage %s requires import parameters", ErrInvalidMessage, m.Stage)
		}
		if m.Import.NextRow < 1 {
			return fmt.Errorf("%w: next row must be >= 1, got %d", ErrInvalidMessage, m.Import.NextRow)
		}
	case StageValidate, StageRead, StageExport, StageWrite:
		if m.Import != nil {
			return fmt.Errorf("%w: stage %s forbids import parameters", ErrInvalidMessage, m.Stage)
		}
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidMessage, m.Stage)
	}
	return nil
}

// Envelope is what actually travels on the queue: the message plus
// transport-level metadata attached by pre-enqueue hooks. Hooks receive the
// message by value and can only add metadata, never change content.
type Envelope struct {
	Message  Message           `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EnqueueHook runs before an envelope is handed to the queue. Hooks may
// populate metadata; a hook error is logged and does not block the enqueue.
type EnqueueHook func(msg Message, metadata map[string]string) error
