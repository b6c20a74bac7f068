package pipeline

// generator.go computes the initial set of execute messages for an import
// whose read stage has staged all rows.
//
// A profile that declares itself parallelizable has its row ranges enumerated
// up front as disjoint chunks that independent workers may process in any
// order; completion is then detected purely by progress accounting. A profile
// with cross-row state instead gets a single self-chaining message so chunks
// run strictly in sequence.

import "fmt"

// GenerateImportMessages produces the execute messages for a job with
// rowCount staged rows. defaultChunkSize applies when the profile is
// parallelizable but declares no chunk size of its own.
func GenerateImportMessages(job *Job, rowCount, defaultChunkSize int64) ([]Message, error) {
	if rowCount <= 0 {
		return nil, nil
	}

	profile, ok := GetProfile(job.Profile)
	if !ok || profile.Importer == nil {
		return nil, fmt.Errorf("no importer registered for profile %q", job.Profile)
	}

	chunkSize := int64(0)
	if p, ok := profile.Importer.(Parallelizable); ok && p.CanBeParallelized() {
		chunkSize = p.ChunkSize()
		if chunkSize <= 0 {
			chunkSize = defaultChunkSize
		}
	}

	if chunkSize <= 0 {
		// Sequential: one message that enqueues its own successor.
		msg, err := NewImportMessage(job.ID, 1, true)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}

	// Parallel fan-out: disjoint ranges [1,1+c), [1+c,1+2c), ... covering
	// [1,rowCount]. No self-chaining, all ranges exist up front.
	msgs := make([]Message, 0, (rowCount+chunkSize-1)/chunkSize)
	for next := int64(1); next <= rowCount; next += chunkSize {
		msg, err := NewImportMessage(job.ID, next, false)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
