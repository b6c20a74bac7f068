package catalog

// writer.go emits staged rows as the output CSV document. The chunk offset
// is the count of data rows already written; before appending, the file is
// truncated back to that row boundary so a redelivered write message
// produces the same bytes instead of duplicating a chunk.

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// rowsPerWriteChunk bounds how many rows one write tick emits.
const rowsPerWriteChunk = 1000

var exportHeader = []string{"sku", "name", "price_cent", "stock"}

// Writer implements pipeline.Writer and pipeline.HeaderWriter for the
// catalog CSV format.
type Writer struct {
	rows pipeline.RowStore
	dir  Dir
}

// NewWriter creates the catalog CSV writer.
func NewWriter(rows pipeline.RowStore, dir Dir) *Writer {
	return &Writer{rows: rows, dir: dir}
}

// WriteFileHeader implements pipeline.HeaderWriter. It creates the output
// document, replacing any partial artifact of an earlier attempt.
func (w *Writer) WriteFileHeader(_ context.Context, jobID uuid.UUID) error {
	f, err := os.Create(w.dir.OutputPath(jobID))
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteChunk implements pipeline.Writer. offset is the count of data rows
// already written; returns nil once all staged rows are on disk.
func (w *Writer) WriteChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error) {
	staged, err := w.rows.Slice(ctx, jobID, offset+1, rowsPerWriteChunk)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(w.dir.OutputPath(jobID), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	// Rewind a redelivered chunk: cut the file back to the row boundary at
	// offset before appending.
	if err := truncateToRow(f, offset); err != nil {
		return nil, err
	}

	cw := csv.NewWriter(f)
	for _, row := range staged {
		var p Product
		if err := json.Unmarshal(row.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal staged row %d: %w", row.RowNumber, err)
		}
		record := []string{
			p.SKU,
			p.Name,
			strconv.FormatInt(p.PriceCent, 10),
			strconv.FormatInt(p.Stock, 10),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	if int64(len(staged)) < rowsPerWriteChunk {
		return nil, nil
	}
	next := offset + int64(len(staged))
	return &next, nil
}

// truncateToRow truncates f after the header plus dataRows data rows and
// positions the write cursor at the new end. The boundary is found by
// reading CSV records, not physical lines: quoted fields may contain
// newlines, so counting '\n' bytes could land mid-record.
func truncateToRow(f *os.File, dataRows int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	var boundary int64
	for record := int64(0); record <= dataRows; record++ {
		if _, err := cr.Read(); err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		boundary = cr.InputOffset()
	}

	if err := f.Truncate(boundary); err != nil {
		return err
	}
	_, err := f.Seek(boundary, io.SeekStart)
	return err
}
