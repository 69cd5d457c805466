// Package ingest runs PDFs through extraction, segmentation, embedding and
// storage, either inline or as NATS jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/engine/segment"
	"github.com/medtext/medrag/engine/semantic"
	"github.com/medtext/medrag/pkg/fn"
	"github.com/medtext/medrag/pkg/metrics"
	"github.com/medtext/medrag/pkg/pdftext"
)

// Source reads page texts and metadata from a PDF.
type Source interface {
	ExtractPages(ctx context.Context, path string) ([]domain.Page, error)
	Metadata(path string) (pdftext.Metadata, error)
}

// ChunkEmbedder turns chunks into vector records of a fixed dimension.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.VectorRecord, error)
	Dimension() int
}

// Catalog remembers which books were ingested.
type Catalog interface {
	Record(ctx context.Context, b domain.Book) error
}

// Deps holds the collaborators of a Pipeline. Catalog, Metrics and Logger
// are optional.
type Deps struct {
	Source    Source
	Segmenter *segment.Segmenter
	Embedder  ChunkEmbedder
	Index     semantic.Index
	Metric    semantic.Metric
	Catalog   Catalog
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Pipeline is the composed ingestion stage chain.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
	run    fn.Stage[Request, Result]
}

// NewPipeline wires Validate → Extract → Segment → Embed → Store.
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, domain.NewConfigError("ingest.source", "is nil")
	case deps.Segmenter == nil:
		return nil, domain.NewConfigError("ingest.segmenter", "is nil")
	case deps.Embedder == nil:
		return nil, domain.NewConfigError("ingest.embedder", "is nil")
	case deps.Index == nil:
		return nil, domain.NewConfigError("ingest.index", "is nil")
	}
	if deps.Metric == "" {
		deps.Metric = semantic.MetricCosine
	}
	p := &Pipeline{deps: deps, logger: deps.Logger}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	validated := step(p, "validate", validate)
	extractedS := fn.Then(validated, step(p, "extract", p.extract))
	segmentedS := fn.Then(extractedS, step(p, "segment", p.split))
	embeddedS := fn.Then(segmentedS, step(p, "embed", p.embed))
	p.run = fn.Then(embeddedS, step(p, "store", p.store))
	return p, nil
}

// Ingest runs one PDF through the pipeline. Input errors abort before the
// index is touched. Existing records of the same book are replaced.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	return p.run(ctx, req).Unwrap()
}

// Rebuild purges the pipeline's index and recreates it empty.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	return Rebuild(ctx, p.deps.Index, p.deps.Embedder.Dimension(), p.deps.Metric, p.logger)
}

// Rebuild deletes every record in idx and ensures it exists with dim and
// metric. Callers confirm with the user before calling it.
func Rebuild(ctx context.Context, idx semantic.Index, dim int, metric semantic.Metric, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	before, err := idx.Stats(ctx)
	if err != nil {
		return fmt.Errorf("ingest: rebuild: %w", err)
	}
	if err := idx.DeleteAll(ctx); err != nil {
		return fmt.Errorf("ingest: rebuild: %w", err)
	}
	if err := idx.EnsureIndex(ctx, dim, metric); err != nil {
		return fmt.Errorf("ingest: rebuild: %w", err)
	}
	logger.Warn("index rebuilt", "deleted", before.TotalVectorCount, "dimension", dim, "metric", metric)
	return nil
}

// step wraps a stage with a span, enter/exit logs and a duration metric.
func step[In, Out any](p *Pipeline, name string, s fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.TracedStage("ingest."+name, func(ctx context.Context, in In) fn.Result[Out] {
		p.logger.Info("stage.enter", "stage", name)
		start := time.Now()
		r := s(ctx, in)
		p.deps.Metrics.ObserveStage(name, time.Since(start), r.Error())
		if r.IsErr() {
			p.logger.Error("stage.failed", "stage", name, "duration", time.Since(start), "err", r.Error())
		} else {
			p.logger.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}
		return r
	})
}

func validate(_ context.Context, req Request) fn.Result[Request] {
	req.Book = strings.TrimSpace(req.Book)
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		return fn.Err[Request](&domain.InputError{Path: req.Path, Err: fmt.Errorf("%w: empty path", domain.ErrInvalidInput)})
	}
	if err := domain.ValidateBookName(req.Book); err != nil {
		return fn.Err[Request](err)
	}
	return fn.Ok(req)
}

func (p *Pipeline) extract(ctx context.Context, req Request) fn.Result[extracted] {
	start := time.Now()
	meta, err := p.deps.Source.Metadata(req.Path)
	if err != nil {
		return fn.Err[extracted](err)
	}
	pages, err := p.deps.Source.ExtractPages(ctx, req.Path)
	if err != nil {
		return fn.Err[extracted](err)
	}
	p.logger.Info("pages extracted", "book", req.Book, "pages", meta.Pages, "non_blank", len(pages))
	return fn.Ok(extracted{req: req, meta: meta, pages: pages, start: start})
}

func (p *Pipeline) split(_ context.Context, in extracted) fn.Result[segmented] {
	chunks := p.deps.Segmenter.Segment(in.pages, in.req.Book)
	p.logger.Info("chunks created", "book", in.req.Book, "chunks", len(chunks))
	return fn.Ok(segmented{extracted: in, chunks: chunks})
}

func (p *Pipeline) embed(ctx context.Context, in segmented) fn.Result[embedded] {
	if len(in.chunks) == 0 {
		return fn.Ok(embedded{segmented: in})
	}
	records, err := p.deps.Embedder.EmbedChunks(ctx, in.chunks)
	if err != nil {
		return fn.Err[embedded](err)
	}
	return fn.Ok(embedded{segmented: in, records: records})
}

// store replaces the book's records. A book that produced no chunks leaves
// the index untouched.
func (p *Pipeline) store(ctx context.Context, in embedded) fn.Result[Result] {
	book := domain.Book{
		Name:       in.req.Book,
		SourcePath: in.req.Path,
		Title:      in.meta.Title,
		Author:     in.meta.Author,
		Pages:      in.meta.Pages,
		Chunks:     len(in.records),
		FileSize:   in.meta.FileSize,
		IngestedAt: time.Now().UTC(),
	}
	if len(in.records) == 0 {
		p.logger.Warn("no chunks produced, index left unchanged", "book", book.Name, "path", book.SourcePath)
		return fn.Ok(Result{Book: book, Duration: time.Since(in.start)})
	}

	idx := p.deps.Index
	if err := idx.EnsureIndex(ctx, p.deps.Embedder.Dimension(), p.deps.Metric); err != nil {
		return fn.Err[Result](err)
	}
	if err := idx.DeleteBook(ctx, book.Name); err != nil {
		return fn.Err[Result](err)
	}
	if err := idx.Upsert(ctx, in.records); err != nil {
		return fn.Err[Result](err)
	}
	p.deps.Metrics.AddChunks(book.Name, len(in.records))

	if p.deps.Catalog != nil {
		if err := p.deps.Catalog.Record(ctx, book); err != nil {
			p.logger.Warn("catalog record failed", "book", book.Name, "err", err)
		}
	}
	res := Result{Book: book, Duration: time.Since(in.start)}
	p.logger.Info("book ingested", "book", book.Name, "chunks", book.Chunks, "duration", res.Duration)
	return fn.Ok(res)
}
