package catalog

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
	"github.com/cartloom/conveyor/internal/store/memory"
)

func stageProducts(t *testing.T, rows *memory.Store, jobID uuid.UUID, products ...Product) {
	t.Helper()
	staged := make([]pipeline.Row, len(products))
	for i, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal product: %v", err)
		}
		staged[i] = pipeline.Row{RowNumber: int64(i + 1), Payload: payload}
	}
	if err := rows.Append(context.Background(), jobID, staged); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func readOutput(t *testing.T, dir Dir, jobID uuid.UUID) string {
	t.Helper()
	data, err := os.ReadFile(dir.OutputPath(jobID))
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	return string(data)
}

func TestWriteHeaderAndChunk(t *testing.T) {
	ctx := context.Background()
	dir := Dir{Root: t.TempDir()}
	rows := memory.New()
	jobID := uuid.New()
	stageProducts(t, rows, jobID,
		Product{SKU: "A-1", Name: "Widget", PriceCent: 100, Stock: 5},
		Product{SKU: "A-2", Name: "Gadget", PriceCent: 250},
	)

	w := NewWriter(rows, dir)
	if err := w.WriteFileHeader(ctx, jobID); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	next, err := w.WriteChunk(ctx, jobID, 0)
	if err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if next != nil {
		t.Errorf("next = %d, want nil when all rows fit one chunk", *next)
	}

	want := "sku,name,price_cent,stock\nA-1,Widget,100,5\nA-2,Gadget,250,0\n"
	if got := readOutput(t, dir, jobID); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestWriteChunkRedeliveryProducesSameBytes(t *testing.T) {
	ctx := context.Background()
	dir := Dir{Root: t.TempDir()}
	rows := memory.New()
	jobID := uuid.New()
	stageProducts(t, rows, jobID,
		Product{SKU: "A-1", Name: "Widget", PriceCent: 100},
		Product{SKU: "A-2", Name: "Gadget", PriceCent: 250},
	)

	w := NewWriter(rows, dir)
	if err := w.WriteFileHeader(ctx, jobID); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	if _, err := w.WriteChunk(ctx, jobID, 0); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	first := readOutput(t, dir, jobID)

	// A redelivered write message truncates back to the offset boundary
	// before appending, so the output is byte-identical.
	if _, err := w.WriteChunk(ctx, jobID, 0); err != nil {
		t.Fatalf("redelivered WriteChunk() error = %v", err)
	}
	if second := readOutput(t, dir, jobID); second != first {
		t.Errorf("redelivered output = %q, want %q", second, first)
	}
}

func TestWriteChunkRedeliveryWithMultilineNames(t *testing.T) {
	ctx := context.Background()
	dir := Dir{Root: t.TempDir()}
	rows := memory.New()
	products := []Product{
		{SKU: "A-1", Name: "Widget\nDeluxe", PriceCent: 100, Stock: 5},
		{SKU: "A-2", Name: "Gadget\nPro", PriceCent: 250},
		{SKU: "A-3", Name: "Plain", PriceCent: 300, Stock: 1},
		{SKU: "A-4", Name: "Other", PriceCent: 400, Stock: 2},
	}

	straight := uuid.New()
	stageProducts(t, rows, straight, products...)
	w := NewWriter(rows, dir)
	if err := w.WriteFileHeader(ctx, straight); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	if _, err := w.WriteChunk(ctx, straight, 0); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	want := readOutput(t, dir, straight)

	// A redelivered chunk at offset 2 must truncate after the second CSV
	// record, not the second physical line; the quoted names span lines.
	replayed := uuid.New()
	stageProducts(t, rows, replayed, products...)
	if err := w.WriteFileHeader(ctx, replayed); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	if _, err := w.WriteChunk(ctx, replayed, 0); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if _, err := w.WriteChunk(ctx, replayed, 2); err != nil {
		t.Fatalf("redelivered WriteChunk() error = %v", err)
	}
	got := readOutput(t, dir, replayed)
	if got != want {
		t.Errorf("output after redelivery at offset 2 = %q, want %q", got, want)
	}
}

func TestWriteChunkNoStagedRows(t *testing.T) {
	ctx := context.Background()
	dir := Dir{Root: t.TempDir()}
	w := NewWriter(memory.New(), dir)
	jobID := uuid.New()

	next, err := w.WriteChunk(ctx, jobID, 0)
	if err != nil || next != nil {
		t.Errorf("WriteChunk() = %v, %v, want nil, nil", next, err)
	}
}

func TestHeaderRewriteReplacesPartialFile(t *testing.T) {
	ctx := context.Background()
	dir := Dir{Root: t.TempDir()}
	rows := memory.New()
	jobID := uuid.New()
	stageProducts(t, rows, jobID, Product{SKU: "A-1", Name: "Widget", PriceCent: 100})

	w := NewWriter(rows, dir)
	if err := w.WriteFileHeader(ctx, jobID); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	if _, err := w.WriteChunk(ctx, jobID, 0); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	// A header redelivery before any recorded write progress starts the
	// document over.
	if err := w.WriteFileHeader(ctx, jobID); err != nil {
		t.Fatalf("second WriteFileHeader() error = %v", err)
	}
	if got := readOutput(t, dir, jobID); got != "sku,name,price_cent,stock\n" {
		t.Errorf("output after header rewrite = %q", got)
	}
}
