package catalog

// importer.go transforms staged catalog rows into product upserts. Row-level
// problems (missing SKU, malformed price) become error log entries on the
// job and never abort the run; the terminal state then distinguishes a clean
// run from one with errors.

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// fieldSpec defines the expectation for one CSV column.
type fieldSpec struct {
	Name     string
	Required bool
	Numeric  bool
}

// fieldSpecs is the catalog header contract, checked during validation.
var fieldSpecs = []fieldSpec{
	{Name: "sku", Required: true},
	{Name: "name", Required: true},
	{Name: "price_cent", Required: true, Numeric: true},
	{Name: "stock", Required: false, Numeric: true},
}

// importBatchSize is the row range one import tick consumes. It doubles as
// the fan-out chunk size since the importer is parallelizable.
const importBatchSize = 100

// Importer implements pipeline.Importer and pipeline.Parallelizable.
type Importer struct {
	rows     pipeline.RowStore
	products ProductStore
}

// NewImporter creates the catalog importer.
func NewImporter(rows pipeline.RowStore, products ProductStore) *Importer {
	return &Importer{rows: rows, products: products}
}

// CanBeParallelized implements pipeline.Parallelizable. Product upserts have
// no cross-row state, so disjoint row ranges may run concurrently.
func (im *Importer) CanBeParallelized() bool { return true }

// ChunkSize implements pipeline.Parallelizable.
func (im *Importer) ChunkSize() int64 { return importBatchSize }

// ValidateConfig implements pipeline.Importer.
func (im *Importer) ValidateConfig(cfg pipeline.JobConfig) pipeline.ValidationErrors {
	var errs pipeline.ValidationErrors
	if cfg.FileName != "" && !strings.HasSuffix(strings.ToLower(cfg.FileName), ".csv") {
		errs = append(errs, pipeline.ValidationError{
			Field:   "file_name",
			Message: fmt.Sprintf("expected a .csv file, got %q", cfg.FileName),
		})
	}
	return errs
}

// ValidateHeaderRow implements pipeline.Importer. All missing required
// columns are reported, not just the first.
func (im *Importer) ValidateHeaderRow(header []string) pipeline.ValidationErrors {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var errs pipeline.ValidationErrors
	for _, spec := range fieldSpecs {
		if spec.Required && !present[spec.Name] {
			errs = append(errs, pipeline.ValidationError{
				Field:   spec.Name,
				Message: "missing required column",
			})
		}
	}
	return errs
}

// ImportChunk implements pipeline.Importer. Upserts are idempotent, so
// redelivered chunks re-apply the same rows without harm.
func (im *Importer) ImportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []pipeline.LogEntry, error) {
	slice, err := im.rows.Slice(ctx, jobID, nextRow, importBatchSize)
	if err != nil {
		return nil, nil, err
	}
	if len(slice) == 0 {
		return nil, nil, nil
	}

	var entries []pipeline.LogEntry
	for _, row := range slice {
		product, rowErr := parseProduct(row.Payload)
		if rowErr != "" {
			entries = append(entries, pipeline.RowError(row.RowNumber, rowErr))
			continue
		}
		if err := im.products.Upsert(ctx, product); err != nil {
			return nil, entries, fmt.Errorf("upsert row %d: %w", row.RowNumber, err)
		}
	}

	if int64(len(slice)) < importBatchSize {
		return nil, entries, nil
	}
	next := nextRow + int64(len(slice))
	return &next, entries, nil
}

// parseProduct builds a Product from a staged row payload. The returned
// string is a row-scoped error message, empty on success.
func parseProduct(payload json.RawMessage) (Product, string) {
	var cells map[string]string
	if err := json.Unmarshal(payload, &cells); err != nil {
		return Product{}, fmt.Sprintf("malformed row payload: %v", err)
	}

	var problems []string
	p := Product{SKU: cells["sku"], Name: cells["name"]}
	if p.SKU == "" {
		problems = append(problems, "sku is empty")
	}
	if p.Name == "" {
		problems = append(problems, "name is empty")
	}

	if raw := cells["price_cent"]; raw == "" {
		problems = append(problems, "price_cent is empty")
	} else if v, err := strconv.ParseInt(raw, 10, 64); err != nil || v < 0 {
		problems = append(problems, fmt.Sprintf("invalid price_cent %q", raw))
	} else {
		p.PriceCent = v
	}

	if raw := cells["stock"]; raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("invalid stock %q", raw))
		} else {
			p.Stock = v
		}
	}

	if len(problems) > 0 {
		return Product{}, strings.Join(problems, "; ")
	}
	return p, ""
}
