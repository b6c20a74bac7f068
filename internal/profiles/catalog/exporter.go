package catalog

// exporter.go materializes catalog products into row storage for the write
// stage. The cursor is the next product row to produce; materializing the
// same range twice overwrites the same staged rows, keeping redelivery safe.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// exportBatchSize bounds how many products one export tick stages.
const exportBatchSize = 100

// Exporter implements pipeline.Exporter and pipeline.FileNamer.
type Exporter struct {
	rows     pipeline.RowStore
	products ProductStore
}

// NewExporter creates the catalog exporter.
func NewExporter(rows pipeline.RowStore, products ProductStore) *Exporter {
	return &Exporter{rows: rows, products: products}
}

// ValidateConfig implements pipeline.Exporter.
func (ex *Exporter) ValidateConfig(cfg pipeline.JobConfig) pipeline.ValidationErrors {
	var errs pipeline.ValidationErrors
	if cfg.WriterName == "" {
		errs = append(errs, pipeline.ValidationError{
			Field:   "writer_name",
			Message: "no writer configured",
		})
	}
	return errs
}

// FileName implements pipeline.FileNamer.
func (ex *Exporter) FileName(pipeline.JobConfig) string {
	return "catalog-products.csv"
}

// ExportChunk implements pipeline.Exporter.
func (ex *Exporter) ExportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []pipeline.LogEntry, error) {
	products, err := ex.products.ListPage(ctx, nextRow-1, exportBatchSize)
	if err != nil {
		return nil, nil, err
	}
	if len(products) == 0 {
		return nil, nil, nil
	}

	staged := make([]pipeline.Row, len(products))
	for i, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal product %s: %w", p.SKU, err)
		}
		staged[i] = pipeline.Row{RowNumber: nextRow + int64(i), Payload: payload}
	}
	if err := ex.rows.Append(ctx, jobID, staged); err != nil {
		return nil, nil, err
	}

	if int64(len(products)) < exportBatchSize {
		return nil, nil, nil
	}
	next := nextRow + int64(len(products))
	return &next, nil, nil
}
