// Package rag turns a question into retrieved passages and a cited answer.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/engine/semantic"
)

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 5

// QueryEmbedder embeds a question into the index's vector space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a query and runs a top-k search.
type Retriever struct {
	embedder QueryEmbedder
	index    semantic.Index
	topK     int
	logger   *slog.Logger
}

// NewRetriever checks that the index holds data. An empty index is a setup
// problem and fails here with domain.ErrEmptyIndex.
func NewRetriever(ctx context.Context, embedder QueryEmbedder, index semantic.Index, topK int, logger *slog.Logger) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	populated, err := semantic.IsPopulated(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("rag: check index: %w", err)
	}
	if !populated {
		return nil, fmt.Errorf("rag: %w: index is empty. Please run ingestion first", domain.ErrEmptyIndex)
	}
	return &Retriever{embedder: embedder, index: index, topK: topK, logger: logger}, nil
}

// TopK returns the default result count.
func (r *Retriever) TopK() int { return r.topK }

// Retrieve returns up to topK documents ordered by descending score. topK <= 0
// uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		topK = r.topK
	}
	start := time.Now()
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	docs, err := r.index.Query(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: query index: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > topK {
		docs = docs[:topK]
	}
	r.logger.Debug("retrieved", "docs", len(docs), "top_k", topK, "duration", time.Since(start))
	return docs, nil
}
