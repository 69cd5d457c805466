package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/medtext/medrag/engine/catalog"
	"github.com/medtext/medrag/engine/embed"
	"github.com/medtext/medrag/engine/ingest"
	"github.com/medtext/medrag/engine/rag"
	"github.com/medtext/medrag/engine/segment"
	"github.com/medtext/medrag/engine/semantic"
	"github.com/medtext/medrag/pkg/config"
	"github.com/medtext/medrag/pkg/history"
	"github.com/medtext/medrag/pkg/llm"
	"github.com/medtext/medrag/pkg/metrics"
	"github.com/medtext/medrag/pkg/ollama"
	"github.com/medtext/medrag/pkg/pdftext"
	"github.com/medtext/medrag/pkg/repo"
	"github.com/medtext/medrag/pkg/resilience"
)

// Swapped out in tests.
var (
	openIndex    = openVectorIndex
	newGenerator = func(c config.Config, l *slog.Logger) (rag.Generator, error) {
		client, err := llm.New(c.GroqKey, c.GroqBaseURL,
			llm.WithRate(c.GroqRPS, 1),
			llm.WithTimeout(c.GenerationTimeout),
			llm.WithLogger(l))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	newSource = func(c config.Config, l *slog.Logger) ingest.Source {
		return pdftext.New(c.MaxPDFBytes, l)
	}
)

// app holds the components of one command run. catalog, history, rdb and
// nc are nil when their service is not configured.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	index    semantic.Index
	embedder *embed.Embedder
	catalog  *catalog.Catalog
	history  *history.Log
	rdb      *redis.Client
	nc       *nats.Conn
	closers  []func()
}

func openApp(ctx context.Context, c config.Config, l *slog.Logger) (a *app, err error) {
	a = &app{cfg: c, logger: l, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	idx, closeIdx, err := openIndex(ctx, c, l)
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.closers = append(a.closers, closeIdx)

	if c.RedisURL != "" {
		if a.rdb, err = history.Dial(ctx, c.RedisURL); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.rdb.Close() })
		a.history = history.New(a.rdb, "", 0, l)
	}

	provider, err := newProvider(c, a.rdb, l)
	if err != nil {
		return nil, err
	}
	a.embedder, err = embed.New(provider, embed.Config{
		Dimension: c.Dimension,
		BatchSize: c.EmbedBatchSize,
		Workers:   c.EmbedWorkers,
		Logger:    l,
	})
	if err != nil {
		return nil, err
	}

	if c.Neo4jURL != "" {
		driver, err := repo.Dial(ctx, c.Neo4jURL, c.Neo4jUser, c.Neo4jPass)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
		if a.catalog, err = catalog.NewNeo4j(ctx, driver); err != nil {
			return nil, err
		}
	}

	if c.NATSURL != "" {
		if a.nc, err = nats.Connect(c.NATSURL, nats.Name("medrag")); err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.closers = append(a.closers, a.nc.Close)
	}

	l.Debug("components ready", "config", c.String())
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) pipeline() (*ingest.Pipeline, error) {
	seg, err := segment.New(a.cfg.SegmentOptions())
	if err != nil {
		return nil, err
	}
	deps := ingest.Deps{
		Source:    newSource(a.cfg, a.logger),
		Segmenter: seg,
		Embedder:  a.embedder,
		Index:     a.index,
		Metric:    a.cfg.Metric,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}
	if a.catalog != nil {
		deps.Catalog = a.catalog
	}
	return ingest.NewPipeline(deps)
}

// askService fails with domain.ErrEmptyIndex until something was ingested.
func (a *app) askService(ctx context.Context) (*rag.Service, error) {
	retriever, err := rag.NewRetriever(ctx, a.embedder, a.index, a.cfg.TopK, a.logger)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	composer, err := rag.NewComposer(gen, rag.ComposerConfig{
		PrimaryModel:  a.cfg.PrimaryModel,
		FallbackModel: a.cfg.FallbackModel,
		Temperature:   a.cfg.Temperature,
		MaxTokens:     a.cfg.MaxTokens,
		Breakers:      resilience.NewSet(resilience.DefaultOpts),
		Metrics:       a.metrics,
		Logger:        a.logger,
	})
	if err != nil {
		return nil, err
	}
	opts := []rag.ServiceOption{rag.WithMetrics(a.metrics), rag.WithServiceLogger(a.logger)}
	if a.history != nil {
		opts = append(opts, rag.WithHistory(a.history))
	}
	return rag.NewService(retriever, composer, opts...), nil
}

func openVectorIndex(ctx context.Context, c config.Config, l *slog.Logger) (semantic.Index, func(), error) {
	opts := []semantic.Option{
		semantic.WithBatchSize(c.UpsertBatchSize),
		semantic.WithMetric(c.Metric),
		semantic.WithLogger(l),
	}
	switch c.VectorBackend {
	case config.BackendQdrant:
		idx, err := semantic.NewQdrant(c.QdrantURL, c.IndexName, opts...)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() { _ = idx.Close() }, nil
	case config.BackendPGVector:
		idx, err := semantic.NewPG(ctx, c.PostgresURL, c.IndexName, opts...)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	case config.BackendMemory:
		return semantic.NewMemory(opts...), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown vector backend %q", c.VectorBackend)
}

// newProvider picks the embedding model. A Redis client, when present,
// caches its vectors.
func newProvider(c config.Config, rdb *redis.Client, l *slog.Logger) (embed.Provider, error) {
	var p embed.Provider
	switch c.EmbedProvider {
	case config.ProviderOllama:
		p = ollama.NewClient(c.OllamaURL, c.EmbeddingModel)
	case config.ProviderOpenAI:
		p = embed.NewOpenAIProvider(c.OpenAIKey, c.OpenAIBaseURL, c.EmbeddingModel)
	case config.ProviderHash:
		p = embed.NewHashProvider(c.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", c.EmbedProvider)
	}
	if rdb != nil {
		p = embed.NewCachedProvider(p, rdb, 0, l)
	}
	return p, nil
}
