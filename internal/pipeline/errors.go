package pipeline

// errors.go defines the pipeline's error taxonomy.
//
// Configuration errors are accumulated (never fail-fast) so the operator sees
// every problem at once. Row-level business errors never surface as Go errors
// at all: profiles report them as log entries and the run keeps going.
// Anything else that escapes a stage handler is structural and fails the job.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned by a JobStore when the job id is unknown.
	// The scheduler treats it as a deliberate no-op: a user deleted the job
	// mid-flight and its remaining messages are silently discarded.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidMessage is returned when a stage message is constructed with
	// parameters that do not match its declared stage.
	ErrInvalidMessage = errors.New("invalid stage message")

	// ErrInvalidTransition is returned by the StateService for a lifecycle
	// edge outside the fixed state machine.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrJobTimeout marks a job that exceeded the configured run ceiling.
	ErrJobTimeout = errors.New("job timed out")
)

// ValidationError is a single configuration or header problem found while
// validating a job. Field names the offending config key or column.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors is the accumulated set of validation problems. Validation
// always collects every applicable error before failing.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// LogEntries converts the set into error-level job log entries.
func (e ValidationErrors) LogEntries() []LogEntry {
	entries := make([]LogEntry, len(e))
	for i, v := range e {
		entries[i] = JobError(v.Error())
	}
	return entries
}
