package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/medtext/medrag/engine/domain"
)

// MemoryIndex is an in-process exact-search index for local runs and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	metric  Metric
	records map[string]domain.VectorRecord
	opts    options
}

// NewMemory creates an empty MemoryIndex.
func NewMemory(opts ...Option) *MemoryIndex {
	o := buildOptions(opts)
	return &MemoryIndex{
		metric:  o.metric,
		records: make(map[string]domain.VectorRecord),
		opts:    o,
	}
}

func (m *MemoryIndex) EnsureIndex(_ context.Context, dim int, metric Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && m.dim != dim && len(m.records) > 0 {
		return fmt.Errorf("semantic: memory index: %w: stores %d, configured %d", domain.ErrDimensionMismatch, m.dim, dim)
	}
	m.dim = dim
	m.metric = metric
	return nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	return upsertBatched(ctx, records, m.opts.batchSize, func(_ context.Context, batch []domain.VectorRecord) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Without EnsureIndex the first stored record fixes the dimension.
		dim := m.dim
		if dim == 0 {
			dim = len(batch[0].Values)
		}
		for _, r := range batch {
			if len(r.Values) != dim {
				return fmt.Errorf("record %s: %w: got %d, index expects %d", r.ID, domain.ErrDimensionMismatch, len(r.Values), dim)
			}
		}
		m.dim = dim
		for _, r := range batch {
			r.Values = append([]float32(nil), r.Values...)
			m.records[r.ID] = r
		}
		return nil
	})
}

// Query scores every record. Ties are ordered by id.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dim != 0 && len(vector) != m.dim {
		return nil, fmt.Errorf("semantic: query: %w: got %d, index expects %d", domain.ErrDimensionMismatch, len(vector), m.dim)
	}

	docs := make([]domain.RetrievedDocument, 0, len(m.records))
	for _, r := range m.records {
		docs = append(docs, domain.RetrievedDocument{
			ID:        r.ID,
			Score:     score(m.metric, vector, r.Values),
			Text:      r.Metadata.Text,
			Book:      r.Metadata.Book,
			Page:      r.Metadata.Page,
			Paragraph: r.Metadata.Paragraph,
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

func (m *MemoryIndex) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]domain.VectorRecord)
	return nil
}

func (m *MemoryIndex) DeleteBook(_ context.Context, book string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.Metadata.Book == book {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Stats(context.Context) (domain.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.IndexStats{TotalVectorCount: int64(len(m.records)), Dimension: m.dim}, nil
}

// score is higher-is-better for every metric; euclidean distance is negated.
func score(metric Metric, a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb, sq float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch metric {
	case MetricDot:
		return float32(dot)
	case MetricEuclidean:
		return float32(-math.Sqrt(sq))
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
