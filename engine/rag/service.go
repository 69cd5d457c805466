package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/metrics"
)

// Recorder keeps answered questions for later display.
type Recorder interface {
	Record(ctx context.Context, question string, answer domain.Answer) error
}

// Service answers questions: validate, retrieve, compose.
type Service struct {
	retriever *Retriever
	composer  *Composer
	history   Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory records every answered question. Recording is best effort.
func WithHistory(r Recorder) ServiceOption {
	return func(s *Service) { s.history = r }
}

// WithMetrics records answer status and latency.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service.
func NewService(retriever *Retriever, composer *Composer, opts ...ServiceOption) *Service {
	s := &Service{retriever: retriever, composer: composer, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ask answers one question. Errors are returned for invalid input, retrieval
// failures and caller cancellation. Generation failures yield a degraded
// answer instead.
func (s *Service) Ask(ctx context.Context, question string) (domain.Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.ask")
	defer span.End()

	start := time.Now()
	if err := domain.ValidateQuestion(question); err != nil {
		return domain.Answer{}, err
	}
	s.logger.Info("rag query start", "question_len", len(question))

	docs, err := s.retriever.Retrieve(ctx, question, 0)
	if err != nil {
		span.RecordError(err)
		return domain.Answer{}, err
	}

	var answer domain.Answer
	if len(docs) == 0 {
		answer = domain.Answer{Status: domain.StatusNoResult, Content: NoResultMessage, References: []domain.Reference{}}
	} else {
		answer = s.composer.Compose(ctx, question, docs)
	}
	if err := ctx.Err(); err != nil {
		return domain.Answer{}, fmt.Errorf("rag: ask: %w", err)
	}
	answer.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.String("rag.status", string(answer.Status)),
		attribute.Int("rag.documents", len(docs)),
	)

	if s.history != nil {
		if err := s.history.Record(ctx, question, answer); err != nil {
			s.logger.Warn("record history failed", "err", err)
		}
	}
	s.metrics.ObserveAnswer(string(answer.Status), answer.Elapsed)
	s.logger.Info("rag query done", "status", answer.Status, "docs", len(docs), "refs", len(answer.References), "elapsed", answer.Elapsed)
	return answer, nil
}

const tracerName = "github.com/medtext/medrag/engine/rag"
