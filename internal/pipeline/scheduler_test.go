package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/conveyor/internal/pipeline"
	"github.com/cartloom/conveyor/internal/queue"
	"github.com/cartloom/conveyor/internal/store/memory"
)

// fakeReader stages total synthetic rows in chunks of perChunk.
type fakeReader struct {
	store    *memory.Store
	total    int64
	perChunk int64

	mu    sync.Mutex
	calls int
}

func (r *fakeReader) ReadChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if offset >= r.total {
		return nil, nil
	}
	n := r.perChunk
	if offset+n > r.total {
		n = r.total - offset
	}
	rows := make([]pipeline.Row, 0, n)
	for i := int64(0); i < n; i++ {
		num := offset + i + 1
		rows = append(rows, pipeline.Row{
			RowNumber: num,
			Payload:   json.RawMessage(fmt.Sprintf(`{"n":%d}`, num)),
		})
	}
	if err := r.store.Append(ctx, jobID, rows); err != nil {
		return nil, err
	}
	next := offset + n
	return &next, nil
}

func (r *fakeReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// contractReader additionally declares a file contract and a header row, so
// the validate stage exercises every check.
type contractReader struct {
	fakeReader
	accepted []string
	header   []string
}

func (r *contractReader) AcceptedContentTypes() []string { return r.accepted }

func (r *contractReader) HeaderRow(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	return r.header, nil
}

// panicReader simulates a crashing collaborator.
type panicReader struct{}

func (panicReader) ReadChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error) {
	panic("reader exploded")
}

// fakeImporter consumes staged rows in batches, recording how often each row
// was seen. Rows listed in errRows produce row-scoped error entries.
type fakeImporter struct {
	store    *memory.Store
	batch    int64
	parallel bool
	required []string
	errRows  map[int64]bool

	mu   sync.Mutex
	seen map[int64]int
}

func (im *fakeImporter) ImportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []pipeline.LogEntry, error) {
	rows, err := im.store.Slice(ctx, jobID, nextRow, im.batch)
	if err != nil {
		return nil, nil, err
	}

	var entries []pipeline.LogEntry
	im.mu.Lock()
	if im.seen == nil {
		im.seen = make(map[int64]int)
	}
	for _, r := range rows {
		im.seen[r.RowNumber]++
		if im.errRows[r.RowNumber] {
			entries = append(entries, pipeline.RowError(r.RowNumber, "bad row"))
		}
	}
	im.mu.Unlock()

	if int64(len(rows)) < im.batch {
		return nil, entries, nil
	}
	next := nextRow + im.batch
	return &next, entries, nil
}

func (im *fakeImporter) ValidateHeaderRow(header []string) pipeline.ValidationErrors {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	var errs pipeline.ValidationErrors
	for _, col := range im.required {
		if !present[col] {
			errs = append(errs, pipeline.ValidationError{Field: col, Message: "missing column"})
		}
	}
	return errs
}

func (im *fakeImporter) ValidateConfig(cfg pipeline.JobConfig) pipeline.ValidationErrors { return nil }
func (im *fakeImporter) CanBeParallelized() bool                                         { return im.parallel }
func (im *fakeImporter) ChunkSize() int64                                                { return im.batch }

func (im *fakeImporter) seenCount(row int64) int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.seen[row]
}

func (im *fakeImporter) totalSeen() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.seen)
}

// fakeExporter materializes total synthetic rows into row storage.
type fakeExporter struct {
	store *memory.Store
	total int64
	batch int64
}

func (ex *fakeExporter) ExportChunk(ctx context.Context, jobID uuid.UUID, nextRow int64) (*int64, []pipeline.LogEntry, error) {
	if nextRow > ex.total {
		return nil, nil, nil
	}
	n := ex.batch
	if nextRow+n-1 > ex.total {
		n = ex.total - nextRow + 1
	}
	rows := make([]pipeline.Row, 0, n)
	for i := int64(0); i < n; i++ {
		num := nextRow + i
		rows = append(rows, pipeline.Row{
			RowNumber: num,
			Payload:   json.RawMessage(fmt.Sprintf(`{"n":%d}`, num)),
		})
	}
	if err := ex.store.Append(ctx, jobID, rows); err != nil {
		return nil, nil, err
	}
	next := nextRow + n
	return &next, nil, nil
}

func (ex *fakeExporter) ValidateConfig(cfg pipeline.JobConfig) pipeline.ValidationErrors { return nil }

// fakeWriter collects emitted rows in memory, truncating back to the offset
// before each chunk the way a real file writer does on redelivery.
type fakeWriter struct {
	store *memory.Store
	batch int64

	mu      sync.Mutex
	headers int
	lines   []string
}

func (w *fakeWriter) WriteFileHeader(ctx context.Context, jobID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.headers++
	return nil
}

func (w *fakeWriter) WriteChunk(ctx context.Context, jobID uuid.UUID, offset int64) (*int64, error) {
	rows, err := w.store.Slice(ctx, jobID, offset+1, w.batch)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	w.mu.Lock()
	if int64(len(w.lines)) > offset {
		w.lines = w.lines[:offset]
	}
	for _, r := range rows {
		w.lines = append(w.lines, string(r.Payload))
	}
	w.mu.Unlock()

	if int64(len(rows)) < w.batch {
		return nil, nil
	}
	next := offset + int64(len(rows))
	return &next, nil
}

func (w *fakeWriter) snapshot() (int, []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := make([]string, len(w.lines))
	copy(lines, w.lines)
	return w.headers, lines
}

// testEnv bundles the wired pipeline over in-memory infrastructure.
type testEnv struct {
	store *memory.Store
	queue *queue.Memory
	state *pipeline.StateService
	sched *pipeline.Scheduler
}

func newTestEnv(t *testing.T, opts pipeline.SchedulerOptions) *testEnv {
	t.Helper()
	pipeline.ResetRegistry()
	t.Cleanup(pipeline.ResetRegistry)

	store := memory.New()
	q := queue.NewMemory()
	state := pipeline.NewStateService(store)
	return &testEnv{
		store: store,
		queue: q,
		state: state,
		sched: pipeline.NewScheduler(store, store, q, state, opts),
	}
}

func (e *testEnv) createJob(t *testing.T, kind pipeline.JobKind, profile string, cfg pipeline.JobConfig) *pipeline.Job {
	t.Helper()
	job := &pipeline.Job{
		ID:      uuid.New(),
		Kind:    kind,
		Profile: profile,
		State:   pipeline.StatePending,
		Config:  cfg,
	}
	if err := e.store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return job
}

// drain handles messages until the queue is empty, calling onTick after every
// handled envelope when set.
func (e *testEnv) drain(t *testing.T, onTick func(env pipeline.Envelope)) int {
	t.Helper()
	ctx := context.Background()
	ticks := 0
	for {
		env, ok, err := e.queue.ClaimBlocking(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("ClaimBlocking() error = %v", err)
		}
		if !ok {
			return ticks
		}
		if err := e.sched.Handle(ctx, env.Message); err != nil {
			t.Fatalf("Handle(%s) error = %v", env.Message.Stage, err)
		}
		if err := e.queue.Ack(ctx, env); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}
		ticks++
		if onTick != nil {
			onTick(env)
		}
		if ticks > 10000 {
			t.Fatal("drain did not terminate")
		}
	}
}

func (e *testEnv) mustGet(t *testing.T, id uuid.UUID) *pipeline.Job {
	t.Helper()
	job, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return job
}

func TestImportEndToEndParallel(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{DefaultChunkSize: 100})
	reader := &fakeReader{store: env.store, total: 250, perChunk: 100}
	importer := &fakeImporter{store: env.store, batch: 100, parallel: true}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	var states []pipeline.JobState
	env.state.Subscribe(func(n pipeline.Notification) { states = append(states, n.To) })

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompleted {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateCompleted)
	}
	if final.CurrentItem != 250 || final.TotalItems != 250 {
		t.Errorf("progress = %d/%d, want 250/250", final.CurrentItem, final.TotalItems)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if importer.totalSeen() != 250 {
		t.Errorf("importer saw %d distinct rows, want 250", importer.totalSeen())
	}

	want := []pipeline.JobState{
		pipeline.StateValidatingFile,
		pipeline.StateReadingFile,
		pipeline.StateRunning,
		pipeline.StateCompleted,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestImportEndToEndSequential(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 25, perChunk: 10}
	importer := &fakeImporter{store: env.store, batch: 10, parallel: false}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var importTicks int
	env.drain(t, func(delivered pipeline.Envelope) {
		if delivered.Message.Stage == pipeline.StageImport {
			importTicks++
		}
	})

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompleted {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateCompleted)
	}
	if final.CurrentItem != 25 || final.TotalItems != 25 {
		t.Errorf("progress = %d/%d, want 25/25", final.CurrentItem, final.TotalItems)
	}
	// Self-chaining: 25 rows in batches of 10 is three execute ticks.
	if importTicks != 3 {
		t.Errorf("import ticks = %d, want 3", importTicks)
	}
}

func TestImportRowErrorsFinishWithErrors(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 10, perChunk: 10}
	importer := &fakeImporter{
		store:    env.store,
		batch:    10,
		errRows:  map[int64]bool{3: true, 7: true},
		parallel: false,
	}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompletedWithErrors {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateCompletedWithErrors)
	}
	// Row errors never stop the run.
	if final.CurrentItem != 10 {
		t.Errorf("CurrentItem = %d, want 10", final.CurrentItem)
	}

	logs, err := env.store.Logs(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d log entries, want 2: %+v", len(logs), logs)
	}
	if logs[0].RowNumber == nil || *logs[0].RowNumber != 3 {
		t.Errorf("logs[0] = %+v, want row 3", logs[0])
	}
}

func TestImportZeroRows(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 0, perChunk: 10}
	importer := &fakeImporter{store: env.store, batch: 10}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompleted {
		t.Errorf("final state = %s, want %s", final.State, pipeline.StateCompleted)
	}
	if importer.totalSeen() != 0 {
		t.Errorf("importer invoked on an empty data set")
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &contractReader{
		fakeReader: fakeReader{store: env.store, total: 10, perChunk: 10},
		accepted:   []string{"text/csv"},
		header:     []string{"sku"},
	}
	importer := &fakeImporter{store: env.store, batch: 10, required: []string{"sku", "name", "price"}}
	pipeline.RegisterReader("csv", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{
		ReaderName:  "csv",
		FileName:    "orders.pdf",
		ContentType: "application/pdf",
	})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateFailed {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateFailed)
	}

	// One content-type error plus two missing columns, all from one pass.
	logs, err := env.store.Logs(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("got %d log entries, want 3: %+v", len(logs), logs)
	}
	for _, e := range logs {
		if e.Severity != pipeline.SeverityError {
			t.Errorf("entry %+v not error-level", e)
		}
	}
}

func TestTimeoutFailsWithoutRunningHandler(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{JobTimeout: time.Hour})
	reader := &fakeReader{store: env.store, total: 10, perChunk: 10}
	importer := &fakeImporter{store: env.store, batch: 10}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	started := time.Now().Add(-2 * time.Hour)
	if err := env.store.UpdateState(context.Background(), job.ID, pipeline.StateReadingFile); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if err := env.store.MarkStarted(context.Background(), job.ID, started); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}

	msg, err := pipeline.NewMessage(job.ID, pipeline.StageRead)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if err := env.sched.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateFailed {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateFailed)
	}
	if reader.callCount() != 0 {
		t.Errorf("reader ran %d times on a timed-out job, want 0", reader.callCount())
	}
	logs, err := env.store.Logs(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "timed out") {
		t.Errorf("logs = %+v, want single timeout entry", logs)
	}
}

func TestVanishedJobMessageIsNoOp(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	msg, err := pipeline.NewMessage(uuid.New(), pipeline.StageRead)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if err := env.sched.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() for vanished job = %v, want nil", err)
	}
	if env.queue.Len() != 0 {
		t.Errorf("queue length = %d after vanished-job message, want 0", env.queue.Len())
	}
}

func TestTerminalJobDropsMessages(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 10, perChunk: 10}
	importer := &fakeImporter{store: env.store, batch: 10}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.store.Finish(context.Background(), job.ID, pipeline.StateCompleted, time.Now()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	msg, err := pipeline.NewMessage(job.ID, pipeline.StageRead)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if err := env.sched.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reader.callCount() != 0 {
		t.Errorf("reader ran %d times on a terminal job, want 0", reader.callCount())
	}
	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompleted {
		t.Errorf("terminal state changed to %s", final.State)
	}
}

func TestPanicBecomesJobFailure(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	importer := &fakeImporter{store: env.store, batch: 10}
	pipeline.RegisterReader("exploding", panicReader{})
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "exploding"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateFailed {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateFailed)
	}
	logs, err := env.store.Logs(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "panicked") {
		t.Fatalf("logs = %+v, want single panic entry", logs)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 250, perChunk: 250}
	importer := &fakeImporter{store: env.store, batch: 100, parallel: true}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	var terminal int
	env.state.Subscribe(func(n pipeline.Notification) {
		if n.To.Terminal() {
			terminal++
		}
	})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Redeliver the first execute message once, as a crashed worker would.
	redelivered := false
	env.drain(t, func(delivered pipeline.Envelope) {
		msg := delivered.Message
		if msg.Stage == pipeline.StageImport && msg.Import.NextRow == 1 && !redelivered {
			redelivered = true
			if err := env.sched.Handle(context.Background(), msg); err != nil {
				t.Fatalf("redelivered Handle() error = %v", err)
			}
		}
	})

	final := env.mustGet(t, job.ID)
	if !final.State.Terminal() || final.State == pipeline.StateFailed {
		t.Fatalf("final state = %s, want successful terminal state", final.State)
	}
	// The replayed chunk contributes zero to the progress counter.
	if final.CurrentItem != 250 || final.TotalItems != 250 {
		t.Errorf("progress = %d/%d, want 250/250", final.CurrentItem, final.TotalItems)
	}
	if terminal != 1 {
		t.Errorf("job finished %d times, want exactly once", terminal)
	}
	if importer.totalSeen() != 250 {
		t.Errorf("importer saw %d distinct rows, want 250", importer.totalSeen())
	}
	if importer.seenCount(1) != 2 {
		t.Errorf("row 1 processed %d times, want 2 under redelivery", importer.seenCount(1))
	}
}

func TestExportEndToEnd(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	exporter := &fakeExporter{store: env.store, total: 25, batch: 10}
	writer := &fakeWriter{store: env.store, batch: 10}
	pipeline.RegisterWriter("collector", writer)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Exporter: exporter})

	var states []pipeline.JobState
	env.state.Subscribe(func(n pipeline.Notification) { states = append(states, n.To) })

	job := env.createJob(t, pipeline.KindExport, "orders", pipeline.JobConfig{
		WriterName:     "collector",
		TotalItemsHint: 25,
	})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.drain(t, nil)

	final := env.mustGet(t, job.ID)
	if final.State != pipeline.StateCompleted {
		t.Fatalf("final state = %s, want %s", final.State, pipeline.StateCompleted)
	}
	if final.CurrentItem != 25 || final.TotalItems != 25 {
		t.Errorf("progress = %d/%d, want 25/25", final.CurrentItem, final.TotalItems)
	}

	headers, lines := writer.snapshot()
	if headers != 1 {
		t.Errorf("header written %d times, want 1", headers)
	}
	if len(lines) != 25 {
		t.Errorf("wrote %d lines, want 25", len(lines))
	}

	want := []pipeline.JobState{
		pipeline.StateRunning,
		pipeline.StateWritingFile,
		pipeline.StateCompleted,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestMalformedMessageIsDiscarded(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	msg := pipeline.Message{JobID: uuid.New(), Stage: pipeline.StageRead, Import: &pipeline.ImportParams{NextRow: 1}}
	if err := env.sched.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() malformed message = %v, want nil", err)
	}
}

func TestEnqueueHooksAttachMetadata(t *testing.T) {
	env := newTestEnv(t, pipeline.SchedulerOptions{})
	reader := &fakeReader{store: env.store, total: 0, perChunk: 10}
	importer := &fakeImporter{store: env.store, batch: 10}
	pipeline.RegisterReader("synthetic", reader)
	pipeline.RegisterProfile(pipeline.Profile{Name: "orders", Importer: importer})

	env.sched.Use(func(msg pipeline.Message, metadata map[string]string) error {
		metadata["origin"] = "test"
		return nil
	})

	job := env.createJob(t, pipeline.KindImport, "orders", pipeline.JobConfig{ReaderName: "synthetic"})
	if err := env.sched.Start(context.Background(), job); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	delivered, ok, err := env.queue.ClaimBlocking(context.Background(), 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("ClaimBlocking() = %v, %v", ok, err)
	}
	if delivered.Metadata["origin"] != "test" {
		t.Errorf("metadata = %v, want origin=test", delivered.Metadata)
	}
}
