package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtext/medrag/engine/ingest"
)

var (
	workerTimeout     time.Duration
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run ingestion jobs queued with ingest --async",
	Long: `Consumes ingestion jobs from NATS. A failed job is retried up to 3 times
and then moved to the dead-letter subject. Needs NATS_URL.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().DurationVar(&workerTimeout, "job-timeout", 30*time.Minute, "upper bound for one ingestion job")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", ":9090", "address for /metrics, empty to disable")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(false); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.nc == nil {
		return errors.New("worker needs NATS_URL")
	}

	p, err := a.pipeline()
	if err != nil {
		return err
	}
	sub, err := ingest.NewWorker(a.nc, p, workerTimeout, a.metrics, logger).Start()
	if err != nil {
		return err
	}
	defer func() { _ = sub.Drain() }()
	logger.Info("ingest worker started", "subject", ingest.JobSubject, "queue", ingest.QueueGroup)

	if workerMetricsAddr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /api/health", handleHealth)
	srv := &http.Server{Addr: workerMetricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}
	return listen(ctx, srv, logger)
}
