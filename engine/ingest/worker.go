package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/metrics"
	"github.com/medtext/medrag/pkg/natsutil"
)

const (
	// JobSubject carries Job messages.
	JobSubject = "medrag.ingest.jobs"
	// DLQSubject receives jobs that failed MaxRetries times.
	DLQSubject = "medrag.ingest.dlq"
	// DoneSubject receives a Completion for every finished job.
	DoneSubject = "medrag.ingest.done"
	// MaxRetries before a job is dead-lettered.
	MaxRetries = 3
	// QueueGroup lets several workers share the job stream.
	QueueGroup = "medrag-ingest"
)

// Ingester runs one ingestion request.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
}

// Enqueue publishes req as a Job and returns its id.
func Enqueue(ctx context.Context, nc *nats.Conn, req Request) (string, error) {
	if err := domain.ValidateBookName(req.Book); err != nil {
		return "", err
	}
	job := Job{ID: uuid.NewString(), Request: req, RequestedAt: time.Now().UTC()}
	if err := natsutil.Publish(ctx, nc, JobSubject, job); err != nil {
		return "", fmt.Errorf("ingest: enqueue: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("ingest: enqueue flush: %w", err)
	}
	return job.ID, nil
}

// Worker consumes jobs from NATS. Failed jobs are republished with an
// incremented retry header and dead-lettered after MaxRetries failures.
// Input errors are not retried.
type Worker struct {
	nc       *nats.Conn
	ingester Ingester
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewWorker creates a Worker. timeout bounds each job; zero means no bound.
func NewWorker(nc *nats.Conn, ing Ingester, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{nc: nc, ingester: ing, timeout: timeout, metrics: m, logger: logger}
}

// Start subscribes to JobSubject in QueueGroup.
func (w *Worker) Start() (*nats.Subscription, error) {
	return natsutil.Subscribe(w.nc, JobSubject, QueueGroup, w.handle, func(err error) {
		w.logger.Error("ingest: malformed job", "err", err)
	})
}

func (w *Worker) handle(ctx context.Context, d natsutil.Delivery[Job]) {
	job := d.Value
	log := w.logger.With("job_id", job.ID, "book", job.Request.Book)
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := w.ingester.Ingest(ctx, job.Request)
	if err == nil {
		log.Info("ingest: job done", "chunks", res.Book.Chunks, "duration", res.Duration)
		w.metrics.IngestJob("ok")
		w.complete(ctx, Completion{JobID: job.ID, Book: res.Book.Name, Chunks: res.Book.Chunks, Retries: d.Retries()})
		return
	}

	retries := d.Retries() + 1
	log.Error("ingest: job failed", "err", err, "retry", retries)
	if retries < MaxRetries && retryable(err) {
		w.metrics.IngestJob("retry")
		if perr := natsutil.Republish(ctx, w.nc, d, retries); perr != nil {
			log.Error("ingest: retry publish failed", "err", perr)
		}
		return
	}

	w.metrics.IngestJob("dead_letter")
	if perr := natsutil.Publish(ctx, w.nc, DLQSubject, deadLetter{Job: job, Error: err.Error(), Retries: retries}); perr != nil {
		log.Error("ingest: DLQ publish failed", "err", perr)
	}
	w.complete(ctx, Completion{JobID: job.ID, Book: job.Request.Book, Error: err.Error(), Retries: retries})
}

func (w *Worker) complete(ctx context.Context, c Completion) {
	if err := natsutil.Publish(context.WithoutCancel(ctx), w.nc, DoneSubject, c); err != nil {
		w.logger.Error("ingest: completion publish failed", "job_id", c.JobID, "err", err)
	}
}

// retryable reports whether another attempt could succeed. Bad input and
// configuration stay bad.
func retryable(err error) bool {
	var ie *domain.InputError
	var ve *domain.ValidationError
	var ce *domain.ConfigError
	return !errors.As(err, &ie) && !errors.As(err, &ve) && !errors.As(err, &ce) &&
		!errors.Is(err, domain.ErrDimensionMismatch)
}
