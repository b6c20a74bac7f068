package catalog

// productstore.go provides the two ProductStore implementations: PostgreSQL
// for the server and an in-memory store for tests and dev mode.

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProductStore implements ProductStore on PostgreSQL.
type PGProductStore struct {
	pool *pgxpool.Pool
}

// NewPGProductStore creates a PostgreSQL-backed product store.
func NewPGProductStore(pool *pgxpool.Pool) *PGProductStore {
	return &PGProductStore{pool: pool}
}

// Upsert inserts or updates a product by SKU.
func (s *PGProductStore) Upsert(ctx context.Context, p Product) error {
	const q = `
INSERT INTO catalog_product (sku, name, price_cent, stock, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (sku) DO UPDATE
SET name = EXCLUDED.name, price_cent = EXCLUDED.price_cent,
	stock = EXCLUDED.stock, updated_at = now();
`
	_, err := s.pool.Exec(ctx, q, p.SKU, p.Name, p.PriceCent, p.Stock)
	return err
}

// ListPage returns products ordered by SKU, for stable export paging.
func (s *PGProductStore) ListPage(ctx context.Context, offset, limit int64) ([]Product, error) {
	const q = `
SELECT sku, name, price_cent, stock, updated_at
FROM catalog_product
ORDER BY sku
OFFSET $1 LIMIT $2;
`
	rows, err := s.pool.Query(ctx, q, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.PriceCent, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of products.
func (s *PGProductStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM catalog_product;`).Scan(&count)
	return count, err
}

// MemoryProductStore implements ProductStore in memory.
type MemoryProductStore struct {
	mu       sync.Mutex
	products map[string]Product
}

// NewMemoryProductStore creates an empty in-memory product store.
func NewMemoryProductStore() *MemoryProductStore {
	return &MemoryProductStore{products: make(map[string]Product)}
}

// Upsert inserts or replaces a product by SKU.
func (s *MemoryProductStore) Upsert(_ context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.SKU] = p
	return nil
}

// ListPage returns products ordered by SKU.
func (s *MemoryProductStore) ListPage(_ context.Context, offset, limit int64) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skus := make([]string, 0, len(s.products))
	for sku := range s.products {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	if offset >= int64(len(skus)) {
		return nil, nil
	}
	skus = skus[offset:]
	if limit > 0 && int64(len(skus)) > limit {
		skus = skus[:limit]
	}

	out := make([]Product, len(skus))
	for i, sku := range skus {
		out[i] = s.products[sku]
	}
	return out, nil
}

// Count returns the number of products.
func (s *MemoryProductStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.products)), nil
}
