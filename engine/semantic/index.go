// Package semantic is the vector index gateway. Every backend owns its stored
// records exclusively; nothing else in the system mutates them.
package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/fn"
)

// DefaultUpsertBatch is the number of records sent per upsert call.
const DefaultUpsertBatch = 100

// Metric is the similarity function an index is built with.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dotproduct"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric accepts the names used in configuration.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return MetricCosine, nil
	case "dot", "dotproduct":
		return MetricDot, nil
	case "euclid", "euclidean":
		return MetricEuclidean, nil
	}
	return "", domain.NewConfigError("INDEX_METRIC", "unknown metric %q", s)
}

// Index is implemented by every vector backend.
//
// Upsert replaces records with an existing id. It sends records in batches;
// when a batch fails, earlier batches stay applied. Query returns at most topK
// documents, best first, with a stable order for identical inputs.
type Index interface {
	EnsureIndex(ctx context.Context, dim int, metric Metric) error
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error)
	DeleteAll(ctx context.Context) error
	DeleteBook(ctx context.Context, book string) error
	Stats(ctx context.Context) (domain.IndexStats, error)
}

// IsPopulated reports whether idx holds at least one record.
func IsPopulated(ctx context.Context, idx Index) (bool, error) {
	s, err := idx.Stats(ctx)
	if err != nil {
		return false, err
	}
	return s.TotalVectorCount > 0, nil
}

// upsertBatched calls send for each consecutive batch, stopping at the first
// failure. The error names how many records were already applied.
func upsertBatched(ctx context.Context, records []domain.VectorRecord, size int, send func(context.Context, []domain.VectorRecord) error) error {
	if size <= 0 {
		size = DefaultUpsertBatch
	}
	applied := 0
	for _, batch := range fn.Batches(records, size) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upsert stopped after %d/%d records: %w", applied, len(records), err)
		}
		if err := send(ctx, batch); err != nil {
			return fmt.Errorf("upsert failed after %d/%d records: %w", applied, len(records), err)
		}
		applied += len(batch)
	}
	return nil
}
