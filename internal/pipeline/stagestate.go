package pipeline

// stagestate.go models the stage-local progress cursor as a closed sum type.
//
// Each stage owns exactly one variant; a handler that receives a job whose
// StageState is another variant treats it as a fresh start. The variants are
// persisted as tagged JSON so a job can be resumed after a process restart.

import (
	"encoding/json"
	"fmt"
)

// StageState is the stage-owned progress cursor of a job. Implementations are
// the closed set of variants below; the decoder rejects anything else.
type StageState interface {
	stageStateTag() string
}

// ReadProgress is owned by the read stage: how far the reader has consumed
// the input.
type ReadProgress struct {
	Offset int64 `json:"offset"`
}

func (ReadProgress) stageStateTag() string { return "read" }

// ExportCursor is owned by the export-execute stage: the next row number the
// exporter will materialize into row storage.
type ExportCursor struct {
	NextRow int64 `json:"next_row"`
}

func (ExportCursor) stageStateTag() string { return "export" }

// WriteProgress is owned by the write stage: how far the writer has emitted
// staged rows and whether the header has been written.
type WriteProgress struct {
	Offset        int64 `json:"offset"`
	HeaderWritten bool  `json:"header_written"`
}

func (WriteProgress) stageStateTag() string { return "write" }

type stageStateEnvelope struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// EncodeStageState serializes a stage state to tagged JSON.
// A nil state encodes to nil (stored as SQL NULL).
func EncodeStageState(s StageState) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode stage state: %w", err)
	}
	return json.Marshal(stageStateEnvelope{Tag: s.stageStateTag(), Data: data})
}

// DecodeStageState deserializes a stage state produced by EncodeStageState.
// Empty input decodes to nil.
func DecodeStageState(b []byte) (StageState, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env stageStateEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode stage state: %w", err)
	}

	var s StageState
	switch env.Tag {
	case ReadProgress{}.stageStateTag():
		s = &ReadProgress{}
	case ExportCursor{}.stageStateTag():
		s = &ExportCursor{}
	case WriteProgress{}.stageStateTag():
		s = &WriteProgress{}
	default:
		return nil, fmt.Errorf("decode stage state: unknown tag %q", env.Tag)
	}
	if err := json.Unmarshal(env.Data, s); err != nil {
		return nil, fmt.Errorf("decode stage state %q: %w", env.Tag, err)
	}
	return s, nil
}
