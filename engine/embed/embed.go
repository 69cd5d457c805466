// Package embed turns chunks and queries into vectors in one shared space.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/fn"
)

const (
	DefaultBatchSize  = 64
	DefaultWorkers    = 4
	DefaultTextBudget = 1000
)

// Provider is an embedding model. Equal inputs must yield equal vectors.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Config controls an Embedder.
type Config struct {
	Dimension  int
	BatchSize  int
	Workers    int
	TextBudget int // max runes of chunk text kept in record metadata
	Logger     *slog.Logger
}

// Embedder embeds chunks in independent sub-batches and checks every vector
// against the configured dimension.
type Embedder struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates an Embedder.
func New(p Provider, cfg Config) (*Embedder, error) {
	if p == nil {
		return nil, domain.NewConfigError("embed.provider", "is nil")
	}
	if cfg.Dimension <= 0 {
		return nil, domain.NewConfigError("EMBEDDING_DIMENSION", "must be positive, got %d", cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.TextBudget <= 0 {
		cfg.TextBudget = DefaultTextBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{provider: p, cfg: cfg, logger: logger}, nil
}

// Dimension returns the vector length every output has.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// Model returns the provider's model name.
func (e *Embedder) Model() string { return e.provider.Model() }

// EmbedChunks returns one VectorRecord per chunk, in chunk order. Sub-batches
// run concurrently; any failed sub-batch fails the whole call.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.VectorRecord, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	start := time.Now()
	batches := fn.Batches(chunks, e.cfg.BatchSize)
	results := fn.ParMapCtx(ctx, batches, e.cfg.Workers, func(ctx context.Context, batch []domain.Chunk) fn.Result[[]domain.VectorRecord] {
		return fn.FromPair(e.embedBatch(ctx, batch))
	})

	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, domain.WrapService("embedding", "embed chunks", err)
	}
	records := make([]domain.VectorRecord, 0, len(chunks))
	for _, b := range all {
		records = append(records, b...)
	}
	e.logger.Info("chunks embedded",
		"chunks", len(chunks),
		"batches", len(batches),
		"model", e.provider.Model(),
		"duration", time.Since(start),
	)
	return records, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []domain.Chunk) ([]domain.VectorRecord, error) {
	texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embed: provider returned %d vectors for %d texts", len(vecs), len(batch))
	}
	out := make([]domain.VectorRecord, len(batch))
	for i, c := range batch {
		if err := e.checkDim(vecs[i]); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		out[i] = domain.VectorRecord{
			ID:     c.ID,
			Values: vecs[i],
			Metadata: domain.ChunkMetadata{
				Book:       c.Book,
				Page:       c.Page,
				Paragraph:  c.Paragraph,
				ChunkIndex: c.ChunkIndex,
				Text:       truncateRunes(c.Text, e.cfg.TextBudget),
			},
		}
	}
	return out, nil
}

// EmbedQuery embeds a free-form query into the same space as chunks.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, domain.WrapService("embedding", "embed query", err)
	}
	if len(vecs) != 1 {
		return nil, domain.WrapService("embedding", "embed query", fmt.Errorf("provider returned %d vectors", len(vecs)))
	}
	if err := e.checkDim(vecs[0]); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) checkDim(v []float32) error {
	if len(v) != e.cfg.Dimension {
		return fmt.Errorf("%w: got %d, index expects %d", domain.ErrDimensionMismatch, len(v), e.cfg.Dimension)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
