package pipeline

// profile.go defines the collaborator contracts a business profile implements
// to run on the pipeline, plus the process-wide registries binding technical
// names to implementations.
//
// Every chunk-producing call must be idempotent for a given offset or row
// number: the queue delivers at least once, so the same chunk may be handled
// twice. The core persists only the opaque cursors these collaborators return
// and never interprets their internal meaning.
//
// Transactionality requirement: a chunk transformation (ImportChunk,
// ExportChunk) must apply its domain writes atomically per chunk. A worker
// that crashes after a partial chunk but before the progress increment will
// re-run the whole chunk on redelivery.

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Reader ingests the job's input source into row storage in bounded chunks.
// ReadChunk consumes one chunk starting at offset and returns the new offset,
// or nil when the source is exhausted.
type Reader interface {
	ReadChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error)
}

// HeaderReader is an optional Reader extension exposing the header row for
// validation before any data is read.
type HeaderReader interface {
	HeaderRow(ctx context.Context, jobID uuid.UUID) ([]string, error)
}

// FileContract is an optional Reader extension declaring that the reader
// consumes an attached file. Validation checks a file is present and that its
// content type is one of the accepted set.
type FileContract interface {
	AcceptedContentTypes() []string
}

// Writer emits staged rows to the output document in bounded chunks.
// WriteChunk writes one chunk starting at offset and returns the new offset,
// or nil when all staged rows have been written.
type Writer interface {
	WriteChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error)
}

// HeaderWriter is an optional Writer extension. When implemented, the write
// stage invokes it exactly once, before the first data chunk.
type HeaderWriter interface {
	WriteFileHeader(ctx context.Context, jobID uuid.UUID) error
}

// Importer is the business half of an import profile. ImportChunk transforms
// one chunk of staged rows starting at nextRow, performing all domain writes
// itself, and returns the next unconsumed row number (nil when every staged
// row has been consumed) plus zero or more row-scoped log entries. Log
// entries do not abort the run; only a returned error does.
type Importer interface {
	ImportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []LogEntry, error)
	ValidateHeaderRow(header []string) ValidationErrors
	ValidateConfig(cfg JobConfig) ValidationErrors
}

// Parallelizable is an optional Importer extension. An importer that declares
// itself parallelizable has its row ranges fanned out up front and processed
// concurrently; transformations with cross-row state must not implement it.
type Parallelizable interface {
	CanBeParallelized() bool
	ChunkSize() int64
}

// Exporter is the business half of an export profile. ExportChunk
// materializes the next batch of output rows into row storage starting at
// nextRow and returns the next row number to produce, or nil when the data
// set is exhausted.
type Exporter interface {
	ExportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []LogEntry, error)
	ValidateConfig(cfg JobConfig) ValidationErrors
}

// FileNamer is an optional Exporter extension providing the name of the
// output document.
type FileNamer interface {
	FileName(cfg JobConfig) string
}

// Profile bundles the business-logic implementations bound to a job by name.
// Importer may be nil for export-only profiles and vice versa.
type Profile struct {
	Name     string
	Importer Importer
	Exporter Exporter
}

var (
	registryMu sync.RWMutex
	profiles   = make(map[string]Profile)
	readers    = make(map[string]Reader)
	writers    = make(map[string]Writer)
)

// RegisterProfile adds a profile to the registry.
// Panics if the name is already taken.
func RegisterProfile(p Profile) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := profiles[p.Name]; exists {
		panic(fmt.Sprintf("profile already registered: %s", p.Name))
	}
	profiles[p.Name] = p
}

// RegisterReader binds a reader to a technical name.
// Panics if the name is already taken.
func RegisterReader(name string, r Reader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := readers[name]; exists {
		panic(fmt.Sprintf("reader already registered: %s", name))
	}
	readers[name] = r
}

// RegisterWriter binds a writer to a technical name.
// Panics if the name is already taken.
func RegisterWriter(name string, w Writer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := writers[name]; exists {
		panic(fmt.Sprintf("writer already registered: %s", name))
	}
	writers[name] = w
}

// GetProfile returns a registered profile by name.
func GetProfile(name string) (Profile, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := profiles[name]
	return p, ok
}

// GetReader returns a registered reader by technical name.
func GetReader(name string) (Reader, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := readers[name]
	return r, ok
}

// GetWriter returns a registered writer by technical name.
func GetWriter(name string) (Writer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	w, ok := writers[name]
	return w, ok
}

// Profiles returns all registered profile names, sorted.
func Profiles() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resetRegistry clears all registrations. Tests only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	profiles = make(map[string]Profile)
	readers = make(map[string]Reader)
	writers = make(map[string]Writer)
}
