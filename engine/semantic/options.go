package semantic

import (
	"log/slog"
	"time"
)

type options struct {
	batchSize    int
	pollInterval time.Duration
	metric       Metric
	logger       *slog.Logger
}

// Option configures an index backend.
type Option func(*options)

// WithBatchSize sets the number of records per upsert call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMetric sets the metric an existing index was built with, so queries
// score correctly before EnsureIndex has run. Unknown values are ignored.
func WithMetric(m Metric) Option {
	return func(o *options) {
		switch m {
		case MetricCosine, MetricDot, MetricEuclidean:
			o.metric = m
		}
	}
}

// WithPollInterval sets how often EnsureIndex checks readiness.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		batchSize:    DefaultUpsertBatch,
		pollInterval: 500 * time.Millisecond,
		metric:       MetricCosine,
		logger:       slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
