package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/llm"
	"github.com/medtext/medrag/pkg/resilience"
)

const structured = "ANSWER:\nThe SA node.\n\nTEACHER EXPLANATION:\nIt depolarises first.\n\nSIMPLIFIED VERSION:\nIt is the pacemaker."

type mockGenerator struct {
	mu    sync.Mutex
	text  map[string]string
	errs  map[string]error
	calls []llm.Request
}

func (m *mockGenerator) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if err := m.errs[req.Model]; err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Text: m.text[req.Model], Model: req.Model}, nil
}

func (m *mockGenerator) models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Model
	}
	return out
}

func newTestComposer(t *testing.T, gen Generator, breakers *resilience.Set) *Composer {
	t.Helper()
	c, err := NewComposer(gen, ComposerConfig{
		PrimaryModel:  "primary",
		FallbackModel: "fallback",
		Temperature:   0.3,
		Breakers:      breakers,
	})
	require.NoError(t, err)
	return c
}

func sampleDocs() []domain.RetrievedDocument {
	return []domain.RetrievedDocument{
		doc("a", "Guyton", 10, 0.9, "The sinoatrial node initiates each heartbeat."),
		doc("b", "Ganong", 4, 0.8, "Pacemaker potentials arise from funny current."),
		doc("c", "Guyton", 10, 0.85, "the sinoatrial node initiates each heartbeat."),
	}
}

func TestNewComposerValidation(t *testing.T) {
	_, err := NewComposer(nil, ComposerConfig{PrimaryModel: "p"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewComposer(&mockGenerator{}, ComposerConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestComposePrimarySuccess(t *testing.T) {
	gen := &mockGenerator{text: map[string]string{"primary": structured}}
	c := newTestComposer(t, gen, nil)

	a := c.Compose(context.Background(), "What starts the heartbeat?", sampleDocs())

	assert.Equal(t, domain.StatusSuccess, a.Status)
	assert.Equal(t, "The SA node.", a.Content)
	assert.Contains(t, a.Explanation, "**In Simple Terms:**\nIt is the pacemaker.")
	assert.Equal(t, "primary", a.Model)
	assert.Equal(t, []string{"primary"}, gen.models())
	assert.Len(t, a.Documents, 2, "duplicates are removed before prompting")
	require.Len(t, a.References, 2)
	assert.Equal(t, "Guyton", a.References[0].Book)

	req := gen.calls[0]
	assert.Equal(t, SystemPrompt, req.System)
	assert.Contains(t, req.Prompt, "[Source 1] Guyton (Page 10):")
	assert.Contains(t, req.Prompt, "[Source 2] Ganong (Page 4):")
	assert.NotContains(t, req.Prompt, "[Source 3]")
	assert.Equal(t, llm.DefaultMaxTokens, req.MaxTokens)
}

func TestComposeFallsBack(t *testing.T) {
	gen := &mockGenerator{
		text: map[string]string{"fallback": "plain answer"},
		errs: map[string]error{"primary": errors.New("model overloaded")},
	}
	c := newTestComposer(t, gen, nil)

	a := c.Compose(context.Background(), "q?", sampleDocs())

	assert.Equal(t, domain.StatusSuccess, a.Status)
	assert.Equal(t, "plain answer", a.Content)
	assert.Equal(t, "fallback", a.Model)
	assert.Equal(t, []string{"primary", "fallback"}, gen.models())
}

func TestComposeDegradesWithReferences(t *testing.T) {
	gen := &mockGenerator{errs: map[string]error{
		"primary":  errors.New("rate limited"),
		"fallback": errors.New("bad gateway"),
	}}
	c := newTestComposer(t, gen, nil)

	a := c.Compose(context.Background(), "q?", sampleDocs())

	assert.Equal(t, domain.StatusDegraded, a.Status)
	assert.Equal(t, DegradedMessage, a.Content)
	assert.NotEmpty(t, a.References)
	assert.Contains(t, a.Reason, "primary: rate limited")
	assert.Contains(t, a.Reason, "fallback: bad gateway")
	assert.Equal(t, []string{"primary", "fallback"}, gen.models(), "each model is tried exactly once")
}

func TestComposeNoFallbackConfigured(t *testing.T) {
	gen := &mockGenerator{errs: map[string]error{"primary": errors.New("down")}}
	c, err := NewComposer(gen, ComposerConfig{PrimaryModel: "primary"})
	require.NoError(t, err)

	out := c.Generate(context.Background(), "p")
	assert.Equal(t, PhaseDegraded, out.Phase)
	assert.Len(t, out.Attempts, 1)
}

func TestComposeEmptyDocs(t *testing.T) {
	gen := &mockGenerator{}
	c := newTestComposer(t, gen, nil)

	a := c.Compose(context.Background(), "q?", nil)
	assert.Equal(t, domain.StatusNoResult, a.Status)
	assert.Equal(t, NoResultMessage, a.Content)
	assert.NotNil(t, a.References)
	assert.Empty(t, gen.models())
}

func TestComposeSkipsOpenBreaker(t *testing.T) {
	gen := &mockGenerator{
		text: map[string]string{"fallback": "ok"},
		errs: map[string]error{"primary": errors.New("down")},
	}
	breakers := resilience.NewSet(resilience.Opts{FailThreshold: 1, Cooldown: time.Hour})
	c := newTestComposer(t, gen, breakers)

	first := c.Compose(context.Background(), "q?", sampleDocs())
	require.Equal(t, domain.StatusSuccess, first.Status)
	assert.Equal(t, resilience.StateOpen, breakers.Get("primary").State())

	out := c.Generate(context.Background(), "p")
	assert.Equal(t, PhaseDone, out.Phase)
	require.Len(t, out.Attempts, 1)
	assert.ErrorIs(t, out.Attempts[0].Err, resilience.ErrOpen)
	assert.Equal(t, []string{"primary", "fallback", "fallback"}, gen.models(), "open breaker skips the call")
	assert.Contains(t, describe(out.Attempts), "circuit open")
}
