package pipeline

// stages.go implements the five per-stage transition functions. Each handler
// performs exactly one bounded unit of work against the job record and row
// storage, then returns the messages to enqueue next (empty = stage done).
//
// Handlers never call each other; progress between stages travels only
// through re-enqueued messages, so a crash between two ticks loses at most
// the uncommitted tick. Row-level business errors become job log entries and
// never abort a stage; any error returned from a handler is structural and
// fails the whole job.

import (
	"context"
	"fmt"
	"log/slog"
)

// Handlers holds the dependencies shared by the stage transition functions.
type Handlers struct {
	state *StateService
	rows  RowStore

	// defaultChunkSize bounds fan-out ranges for parallelizable importers
	// that declare no chunk size of their own.
	defaultChunkSize int64
}

// NewHandlers wires the stage handlers.
func NewHandlers(state *StateService, rows RowStore, defaultChunkSize int64) *Handlers {
	if defaultChunkSize <= 0 {
		defaultChunkSize = 500
	}
	return &Handlers{state: state, rows: rows, defaultChunkSize: defaultChunkSize}
}

// validate checks the job's bindings before any data is touched. All
// applicable errors are collected; the job fails with the full set, never
// just the first.
func (h *Handlers) validate(ctx context.Context, job *Job) ([]Message, error) {
	if err := h.state.Transition(ctx, job, StateValidatingFile); err != nil {
		return nil, err
	}

	profile, ok := GetProfile(job.Profile)
	if !ok || profile.Importer == nil {
		return nil, fmt.Errorf("no importer registered for profile %q", job.Profile)
	}

	var errs ValidationErrors

	var reader Reader
	if job.Config.ReaderName == "" {
		errs = append(errs, ValidationError{Field: "reader_name", Message: "no reader configured"})
	} else if reader, ok = GetReader(job.Config.ReaderName); !ok {
		errs = append(errs, ValidationError{
			Field:   "reader_name",
			Message: fmt.Sprintf("unknown reader %q", job.Config.ReaderName),
		})
	}

	if fc, ok := reader.(FileContract); ok {
		if job.Config.FileName == "" {
			errs = append(errs, ValidationError{Field: "file_name", Message: "no file attached"})
		} else if !contentTypeAccepted(job.Config.ContentType, fc.AcceptedContentTypes()) {
			errs = append(errs, ValidationError{
				Field:   "content_type",
				Message: fmt.Sprintf("unsupported content type %q", job.Config.ContentType),
			})
		}
	}

	if hr, ok := reader.(HeaderReader); ok {
		header, err := hr.HeaderRow(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("read header row: %w", err)
		}
		errs = append(errs, profile.Importer.ValidateHeaderRow(header)...)
	}

	if len(errs) > 0 {
		slog.Warn("job validation failed", "job_id", job.ID, "errors", len(errs))
		return nil, h.state.Fail(ctx, job, errs.LogEntries()...)
	}

	msg, err := NewMessage(job.ID, StageRead)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

func contentTypeAccepted(got string, accepted []string) bool {
	for _, ct := range accepted {
		if got == ct {
			return true
		}
	}
	return false
}

// read ingests one bounded chunk of the input source into row storage. When
// the reader signals exhaustion, the stable row count is taken, the run is
// started and the execute messages are generated.
func (h *Handlers) read(ctx context.Context, job *Job) ([]Message, error) {
	if err := h.state.Transition(ctx, job, StateReadingFile); err != nil {
		return nil, err
	}

	reader, ok := GetReader(job.Config.ReaderName)
	if !ok {
		return nil, fmt.Errorf("unknown reader %q", job.Config.ReaderName)
	}

	progress := &ReadProgress{}
	if p, ok := job.StageState.(*ReadProgress); ok {
		progress = p
	}

	next, err := reader.ReadChunk(ctx, job.ID, progress.Offset)
	if err != nil {
		return nil, fmt.Errorf("read chunk at offset %d: %w", progress.Offset, err)
	}

	if next == nil {
		// Source exhausted: hand off to the execute stage. The row count
		// taken here is the stable totalItems for the whole run.
		if err := h.state.ClearStageState(ctx, job); err != nil {
			return nil, err
		}
		rowCount, err := h.rows.Count(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if err := h.state.StartRun(ctx, job, rowCount); err != nil {
			return nil, err
		}
		if rowCount == 0 {
			return nil, h.state.FinishRun(ctx, job)
		}
		slog.Info("input staged", "job_id", job.ID, "rows", rowCount)
		return GenerateImportMessages(job, rowCount, h.defaultChunkSize)
	}

	if err := h.state.SetStageState(ctx, job, &ReadProgress{Offset: *next}); err != nil {
		return nil, err
	}
	msg, err := NewMessage(job.ID, StageRead)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

// importChunk runs the profile's transformation over one staged row range.
// Progress accounting detects run completion, which makes out-of-order chunk
// processing safe for parallelizable profiles.
func (h *Handlers) importChunk(ctx context.Context, job *Job, msg Message) ([]Message, error) {
	if err := h.state.Transition(ctx, job, StateRunning); err != nil {
		return nil, err
	}

	profile, ok := GetProfile(job.Profile)
	if !ok || profile.Importer == nil {
		return nil, fmt.Errorf("no importer registered for profile %q", job.Profile)
	}
	params := msg.Import

	// Nothing staged at or past this row: the range is already consumed or
	// beyond the end of the data set.
	probe, err := h.rows.Slice(ctx, job.ID, params.NextRow, 1)
	if err != nil {
		return nil, err
	}
	if len(probe) == 0 {
		return nil, nil
	}

	next, entries, err := profile.Importer.ImportChunk(ctx, job.ID, params.NextRow)
	if err != nil {
		return nil, fmt.Errorf("import chunk at row %d: %w", params.NextRow, err)
	}
	if len(entries) > 0 {
		if err := h.state.jobs.AppendLog(ctx, job.ID, entries); err != nil {
			return nil, err
		}
	}

	// The profile may consume a variable number of rows; derive the count
	// from the returned cursor.
	consumed := job.TotalItems - params.NextRow + 1
	if next != nil {
		if *next <= params.NextRow {
			return nil, fmt.Errorf("importer did not advance: row %d -> %d", params.NextRow, *next)
		}
		consumed = *next - params.NextRow
	}

	done, err := h.state.IncrementProgress(ctx, job, params.NextRow, consumed)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, h.state.FinishRun(ctx, job)
	}
	if params.SpawnFollowUp && next != nil {
		follow, err := NewImportMessage(job.ID, *next, true)
		if err != nil {
			return nil, err
		}
		return []Message{follow}, nil
	}
	return nil, nil
}

// exportChunk asks the profile to materialize the next batch of output rows
// into row storage. The first invocation starts the run with totalItems
// taken from the job config.
func (h *Handlers) exportChunk(ctx context.Context, job *Job) ([]Message, error) {
	if job.State != StateRunning {
		if err := h.state.StartRun(ctx, job, job.Config.TotalItemsHint); err != nil {
			return nil, err
		}
	}

	profile, ok := GetProfile(job.Profile)
	if !ok || profile.Exporter == nil {
		return nil, fmt.Errorf("no exporter registered for profile %q", job.Profile)
	}

	cursor := &ExportCursor{NextRow: 1}
	if c, ok := job.StageState.(*ExportCursor); ok {
		cursor = c
	}

	next, entries, err := profile.Exporter.ExportChunk(ctx, job.ID, cursor.NextRow)
	if err != nil {
		return nil, fmt.Errorf("export chunk at row %d: %w", cursor.NextRow, err)
	}
	if len(entries) > 0 {
		if err := h.state.jobs.AppendLog(ctx, job.ID, entries); err != nil {
			return nil, err
		}
	}

	if next == nil {
		if err := h.state.ClearStageState(ctx, job); err != nil {
			return nil, err
		}
		msg, err := NewMessage(job.ID, StageWrite)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	if *next <= cursor.NextRow {
		return nil, fmt.Errorf("exporter did not advance: row %d -> %d", cursor.NextRow, *next)
	}
	if _, err := h.state.IncrementProgress(ctx, job, cursor.NextRow, *next-cursor.NextRow); err != nil {
		return nil, err
	}
	if err := h.state.SetStageState(ctx, job, &ExportCursor{NextRow: *next}); err != nil {
		return nil, err
	}
	msg, err := NewMessage(job.ID, StageExport)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

// write emits staged rows to the output document one bounded chunk at a
// time. The header, if the writer has one, is written exactly once before
// the first data chunk.
func (h *Handlers) write(ctx context.Context, job *Job) ([]Message, error) {
	if err := h.state.Transition(ctx, job, StateWritingFile); err != nil {
		return nil, err
	}

	writer, ok := GetWriter(job.Config.WriterName)
	if !ok {
		return nil, fmt.Errorf("unknown writer %q", job.Config.WriterName)
	}

	progress := &WriteProgress{}
	if p, ok := job.StageState.(*WriteProgress); ok {
		progress = p
	}

	if !progress.HeaderWritten {
		if hw, ok := writer.(HeaderWriter); ok {
			if err := hw.WriteFileHeader(ctx, job.ID); err != nil {
				return nil, fmt.Errorf("write file header: %w", err)
			}
		}
		progress.HeaderWritten = true
		if err := h.state.SetStageState(ctx, job, progress); err != nil {
			return nil, err
		}
	}

	next, err := writer.WriteChunk(ctx, job.ID, progress.Offset)
	if err != nil {
		return nil, fmt.Errorf("write chunk at offset %d: %w", progress.Offset, err)
	}

	if next == nil {
		if err := h.state.ClearStageState(ctx, job); err != nil {
			return nil, err
		}
		return nil, h.state.FinishRun(ctx, job)
	}

	if err := h.state.SetStageState(ctx, job, &WriteProgress{Offset: *next, HeaderWritten: true}); err != nil {
		return nil, err
	}
	msg, err := NewMessage(job.ID, StageWrite)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

// entryMessage returns the first stage message for a freshly created job.
func entryMessage(job *Job) (Message, error) {
	switch job.Kind {
	case KindImport:
		return NewMessage(job.ID, StageValidate)
	case KindExport:
		return NewMessage(job.ID, StageExport)
	default:
		return Message{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
