// Package catalog is the reference product-catalog profile for the batch
// pipeline: a CSV importer/exporter for SKU/name/price/stock rows. It is the
// executable documentation of the collaborator contracts: a chunked file
// reader with a header contract, column validation, idempotent staged-row
// transformation, and a chunked CSV writer.
//
// Business depth is deliberately small. Real profiles (accounting records,
// supplier orders, POS documents) follow the same shape against their own
// domain stores.
package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// Name is the registered profile name.
const Name = "catalog-products"

// ReaderName and WriterName are the technical names jobs reference in their
// config.
const (
	ReaderName = "catalog-csv-reader"
	WriterName = "catalog-csv-writer"
)

// Product is one catalog row.
type Product struct {
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	PriceCent int64     `json:"price_cent"`
	Stock     int64     `json:"stock"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ProductStore is the domain store the profile imports into and exports
// from. Upsert must be idempotent: chunk redelivery re-applies rows.
type ProductStore interface {
	Upsert(ctx context.Context, p Product) error
	ListPage(ctx context.Context, offset, limit int64) ([]Product, error)
	Count(ctx context.Context) (int64, error)
}

// Dir locates job files on disk: the attached input CSV of an import and the
// output document of an export.
type Dir struct {
	Root string
}

// InputPath returns the attached file path of an import job.
func (d Dir) InputPath(jobID uuid.UUID) string {
	return filepath.Join(d.Root, jobID.String()+".csv")
}

// OutputPath returns the output document path of an export job.
func (d Dir) OutputPath(jobID uuid.UUID) string {
	return filepath.Join(d.Root, jobID.String()+"-export.csv")
}

// Register wires the profile into the pipeline registries.
func Register(rows pipeline.RowStore, products ProductStore, dir Dir) {
	pipeline.RegisterReader(ReaderName, NewReader(rows, dir))
	pipeline.RegisterWriter(WriterName, NewWriter(rows, dir))
	pipeline.RegisterProfile(pipeline.Profile{
		Name:     Name,
		Importer: NewImporter(rows, products),
		Exporter: NewExporter(rows, products),
	})
}
