package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New()
	m.ObserveStage("embed", 120*time.Millisecond, nil)
	m.ObserveStage("embed", 80*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stageErrors.WithLabelValues("embed")))
}

func TestAddChunks(t *testing.T) {
	m := New()
	m.AddChunks("harrison", 10)
	m.AddChunks("harrison", 5)
	m.AddChunks("harrison", 0)
	assert.Equal(t, float64(15), testutil.ToFloat64(m.chunksIngested.WithLabelValues("harrison")))
}

func TestObserveAnswer(t *testing.T) {
	m := New()
	m.ObserveAnswer("success", time.Second)
	m.ObserveAnswer("degraded", time.Second)
	m.ObserveAnswer("success", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.answers.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.answers.WithLabelValues("degraded")))
}

func TestGenerationAttempt(t *testing.T) {
	m := New()
	m.GenerationAttempt("primary", false)
	m.GenerationAttempt("fallback", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.generation.WithLabelValues("primary", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.generation.WithLabelValues("fallback", "ok")))
}

func TestCodeClass(t *testing.T) {
	cases := map[int]string{101: "1xx", 200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx"}
	for code, want := range cases {
		assert.Equal(t, want, codeClass(code), "code %d", code)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("x", time.Second, nil)
		m.AddChunks("b", 1)
		m.IngestJob("ok")
		m.ObserveAnswer("success", time.Second)
		m.GenerationAttempt("m", true)
		m.HTTPRequest("/", 200)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.IngestJob("ok")
	m.HTTPRequest("/api/ask", 200)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `medrag_ingest_jobs_total{result="ok"} 1`), out)
	assert.True(t, strings.Contains(out, `medrag_http_requests_total{code="2xx",route="/api/ask"} 1`), out)
	assert.True(t, strings.Contains(out, "go_goroutines"))
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.IngestJob("ok")
	assert.Equal(t, float64(1), testutil.ToFloat64(a.ingestJobs.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.ingestJobs.WithLabelValues("ok")))
}
