package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/engine/rag"
	"github.com/medtext/medrag/engine/semantic"
	"github.com/medtext/medrag/pkg/history"
	"github.com/medtext/medrag/pkg/metrics"
	"github.com/medtext/medrag/pkg/mid"
)

const maxRequestBody = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering HTTP API",
	Long: `Starts an HTTP server with POST /api/ask, GET /api/stats, GET /api/books,
GET /api/history, GET /api/health and Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type asker interface {
	Ask(ctx context.Context, question string) (domain.Answer, error)
}

type bookLister interface {
	List(ctx context.Context) ([]domain.Book, error)
}

type historyReader interface {
	Recent(ctx context.Context) ([]history.Entry, error)
}

// server holds the handlers' collaborators. books and history may be nil.
type server struct {
	asker     asker
	indexName string
	index     semantic.Index
	books     bookLister
	history   historyReader
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(true); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	s := &server{
		asker:     &lazyAsker{build: a.askService},
		indexName: cfg.IndexName,
		index:     a.index,
		metrics:   a.metrics,
		logger:    logger,
	}
	if a.catalog != nil {
		s.books = a.catalog
	}
	if a.history != nil {
		s.history = a.history
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.handler(cfg.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout*2 + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return listen(ctx, srv, logger)
}

// listen runs srv until ctx is done, then shuts it down gracefully.
func listen(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func (s *server) handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/books", s.handleBooks)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.OTel("medrag"),
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.CORS(corsOrigin),
		mid.Metrics(s.metrics),
		mid.MaxBody(maxRequestBody),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.asker.Ask(r.Context(), req.Question)
	if err != nil {
		code := askStatus(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("ask failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		}
		writeError(w, code, askMessage(code, err))
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func askStatus(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmptyIndex):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrServiceTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func askMessage(code int, err error) string {
	switch code {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "the index is empty, ingest a book first"
	case http.StatusGatewayTimeout:
		return "timed out"
	}
	return "internal server error"
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Index string `json:"index"`
	domain.IndexStats
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "err", err)
		writeError(w, http.StatusBadGateway, "vector index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Index: s.indexName, IndexStats: stats})
}

func (s *server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if s.books == nil {
		writeError(w, http.StatusNotImplemented, "book catalog disabled")
		return
	}
	books, err := s.books.List(r.Context())
	if err != nil {
		s.logger.Error("list books failed", "err", err)
		writeError(w, http.StatusBadGateway, "book catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.history.Recent(r.Context())
	if err != nil {
		s.logger.Error("read history failed", "err", err)
		writeError(w, http.StatusBadGateway, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// lazyAsker builds the question answering service on first use so the
// server can start before anything was ingested.
type lazyAsker struct {
	mu    sync.Mutex
	svc   asker
	build func(ctx context.Context) (*rag.Service, error)
}

func (l *lazyAsker) Ask(ctx context.Context, question string) (domain.Answer, error) {
	l.mu.Lock()
	svc := l.svc
	l.mu.Unlock()
	if svc == nil {
		built, err := l.build(ctx)
		if err != nil {
			return domain.Answer{}, err
		}
		l.mu.Lock()
		if l.svc == nil {
			l.svc = built
		}
		svc = l.svc
		l.mu.Unlock()
	}
	return svc.Ask(ctx, question)
}
