package postgres

// row_store.go is the durable staging area holding parsed rows between the
// read and execute/write stages. Append upserts on (job_id, row_number) so
// redelivered read chunks overwrite instead of duplicate.

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// RowStore implements pipeline.RowStore on PostgreSQL.
type RowStore struct {
	pool *pgxpool.Pool
}

// NewRowStore creates a RowStore.
func NewRowStore(pool *pgxpool.Pool) *RowStore {
	return &RowStore{pool: pool}
}

// copyThreshold is the batch size above which Append switches from upserts
// to the COPY protocol. COPY cannot upsert, so it targets a staging path:
// existing row numbers are deleted first inside the same transaction.
const copyThreshold = 500

// Append stages rows for a job.
func (s *RowStore) Append(ctx context.Context, jobID uuid.UUID, rows []pipeline.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) >= copyThreshold {
		return s.appendCopy(ctx, jobID, rows)
	}

	const q = `
INSERT INTO import_export_row (job_id, row_number, payload)
VALUES ($1, $2, $3)
ON CONFLICT (job_id, row_number) DO UPDATE SET payload = EXCLUDED.payload;
`
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(q, jobID, r.RowNumber, []byte(r.Payload))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *RowStore) appendCopy(ctx context.Context, jobID uuid.UUID, rows []pipeline.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const del = `
DELETE FROM import_export_row
WHERE job_id = $1 AND row_number BETWEEN $2 AND $3;
`
	if _, err := tx.Exec(ctx, del, jobID, rows[0].RowNumber, rows[len(rows)-1].RowNumber); err != nil {
		return err
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"import_export_row"},
		[]string{"job_id", "row_number", "payload"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			return []interface{}{jobID, rows[i].RowNumber, []byte(rows[i].Payload)}, nil
		}),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Count returns the number of staged rows.
func (s *RowStore) Count(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM import_export_row WHERE job_id = $1;`, jobID,
	).Scan(&count)
	return count, err
}

// Slice returns up to limit rows with row_number >= from, ordered.
func (s *RowStore) Slice(ctx context.Context, jobID uuid.UUID, from, limit int64) ([]pipeline.Row, error) {
	const q = `
SELECT row_number, payload
FROM import_export_row
WHERE job_id = $1 AND row_number >= $2
ORDER BY row_number
LIMIT $3;
`
	rows, err := s.pool.Query(ctx, q, jobID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Row
	for rows.Next() {
		var (
			r       pipeline.Row
			payload []byte
		)
		if err := rows.Scan(&r.RowNumber, &payload); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge drops all staged rows of a job.
func (s *RowStore) Purge(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM import_export_row WHERE job_id = $1;`, jobID)
	return err
}
