package catalog

// reader.go ingests the attached CSV file into row storage in bounded
// chunks. The chunk offset is the number of data rows already staged, so
// redelivering a read message re-stages the same rows (row storage upserts
// on row number) instead of duplicating them.

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// rowsPerReadChunk bounds how many rows one read tick stages.
const rowsPerReadChunk = 1000

// Reader implements pipeline.Reader, pipeline.HeaderReader and
// pipeline.FileContract for the catalog CSV format.
type Reader struct {
	rows pipeline.RowStore
	dir  Dir
}

// NewReader creates the catalog CSV reader.
func NewReader(rows pipeline.RowStore, dir Dir) *Reader {
	return &Reader{rows: rows, dir: dir}
}

// AcceptedContentTypes implements pipeline.FileContract.
func (r *Reader) AcceptedContentTypes() []string {
	return []string{"text/csv", "application/csv", "application/vnd.ms-excel"}
}

// HeaderRow implements pipeline.HeaderReader: the first record of the file.
func (r *Reader) HeaderRow(_ context.Context, jobID uuid.UUID) ([]string, error) {
	f, err := os.Open(r.dir.InputPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	cr := newCSVReader(f)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return normalizeHeader(header), nil
}

// ReadChunk implements pipeline.Reader. offset is the count of data rows
// already staged; returns nil when the file is exhausted.
func (r *Reader) ReadChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error) {
	f, err := os.Open(r.dir.InputPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	cr := newCSVReader(f)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = normalizeHeader(header)

	// Skip rows staged by earlier chunks.
	for skipped := int64(0); skipped < offset; skipped++ {
		if _, err := cr.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("skip to row %d: %w", offset, err)
		}
	}

	staged := make([]pipeline.Row, 0, rowsPerReadChunk)
	next := offset
	for len(staged) < rowsPerReadChunk {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", next+1, err)
		}

		next++
		payload, err := json.Marshal(recordToMap(header, record))
		if err != nil {
			return nil, err
		}
		staged = append(staged, pipeline.Row{RowNumber: next, Payload: payload})
	}

	if len(staged) == 0 {
		return nil, nil
	}
	if err := r.rows.Append(ctx, jobID, staged); err != nil {
		return nil, err
	}
	if len(staged) < rowsPerReadChunk {
		return nil, nil
	}
	return &next, nil
}

// newCSVReader wraps the file with BOM skipping (Windows exports prefix
// UTF-8 files with 0xEF 0xBB 0xBF) and lenient field counting.
func newCSVReader(f io.Reader) *csv.Reader {
	br := bufio.NewReader(f)
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

// recordToMap maps a CSV record onto its header columns. Extra cells are
// dropped, missing cells become empty strings.
func recordToMap(header, record []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		if i < len(record) {
			m[col] = strings.TrimSpace(record[i])
		} else {
			m[col] = ""
		}
	}
	return m
}
