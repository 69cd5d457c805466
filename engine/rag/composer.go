package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/llm"
	"github.com/medtext/medrag/pkg/metrics"
	"github.com/medtext/medrag/pkg/resilience"
)

const (
	// DegradedMessage is returned as the answer when every model failed.
	DegradedMessage = "I'm sorry, I couldn't generate an answer right now. The passages cited below are the most relevant material found for your question."
	// NoResultMessage is returned when retrieval found nothing usable.
	NoResultMessage = "I couldn't find relevant information in the indexed textbooks to answer this question."
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Phase is a step of one Compose call.
type Phase string

const (
	PhaseGeneratingPrimary  Phase = "generating_primary"
	PhaseGeneratingFallback Phase = "generating_fallback"
	PhaseDone               Phase = "done"
	PhaseDegraded           Phase = "degraded"
)

// Attempt records one failed generation call.
type Attempt struct {
	Model string
	Err   error
}

// Outcome is the result of the generation step: Done with a Response, or
// Degraded with a Reason.
type Outcome struct {
	Phase    Phase
	Response llm.Response
	Reason   string
	Attempts []Attempt
}

// ComposerConfig configures a Composer.
type ComposerConfig struct {
	PrimaryModel  string
	FallbackModel string
	Temperature   float32
	MaxTokens     int
	MaxReferences int
	ExcerptChars  int
	// Breakers, when set, skips a model whose recent calls kept failing.
	Breakers *resilience.Set
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Composer deduplicates retrieved passages, asks the generator for an answer
// and always attaches references.
type Composer struct {
	gen    Generator
	cfg    ComposerConfig
	logger *slog.Logger
}

// NewComposer creates a Composer. A primary model is required.
func NewComposer(gen Generator, cfg ComposerConfig) (*Composer, error) {
	if gen == nil {
		return nil, domain.NewConfigError("rag.generator", "is nil")
	}
	if strings.TrimSpace(cfg.PrimaryModel) == "" {
		return nil, domain.NewConfigError("GROQ_MODEL_PRIMARY", "not set")
	}
	if cfg.MaxReferences <= 0 {
		cfg.MaxReferences = DefaultMaxReferences
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, cfg: cfg, logger: logger}, nil
}

// Compose builds the answer for question from docs, which must be ordered
// best first. It does not return an error: generation failures produce a
// degraded answer and an empty input produces a no-result answer.
func (c *Composer) Compose(ctx context.Context, question string, docs []domain.RetrievedDocument) domain.Answer {
	unique := Deduplicate(docs)
	if len(unique) == 0 {
		return domain.Answer{Status: domain.StatusNoResult, Content: NoResultMessage, References: []domain.Reference{}}
	}
	refs := BuildReferences(unique, c.cfg.MaxReferences, c.cfg.ExcerptChars)
	prompt := BuildPrompt(BuildContext(unique), question)

	out := c.Generate(ctx, prompt)
	if out.Phase == PhaseDegraded {
		return domain.Answer{
			Status:     domain.StatusDegraded,
			Content:    DegradedMessage,
			Reason:     out.Reason,
			References: refs,
			Documents:  unique,
		}
	}

	sec := ParseSections(out.Response.Text)
	return domain.Answer{
		Status:      domain.StatusSuccess,
		Content:     sec.Answer,
		Explanation: sec.Explanation,
		Simplified:  sec.Simplified,
		Raw:         out.Response.Text,
		Model:       out.Response.Model,
		References:  refs,
		Documents:   unique,
	}
}

// Generate runs primary, then fallback once, then degrades. There is no
// backoff between the two attempts.
func (c *Composer) Generate(ctx context.Context, prompt string) Outcome {
	out := Outcome{Phase: PhaseGeneratingPrimary}
	for {
		switch out.Phase {
		case PhaseGeneratingPrimary, PhaseGeneratingFallback:
			model := c.modelFor(out.Phase)
			resp, err := c.attempt(ctx, model, prompt)
			c.cfg.Metrics.GenerationAttempt(model, err == nil)
			if err == nil {
				out.Response = resp
				out.Phase = PhaseDone
				continue
			}
			out.Attempts = append(out.Attempts, Attempt{Model: model, Err: err})
			c.logger.Warn("generation attempt failed", "phase", out.Phase, "model", model, "kind", llm.Classify(err), "err", err)
			out.Phase = c.afterFailure(out.Phase)
		case PhaseDegraded:
			out.Reason = describe(out.Attempts)
			return out
		default:
			return out
		}
	}
}

func (c *Composer) modelFor(p Phase) string {
	if p == PhaseGeneratingFallback {
		return c.cfg.FallbackModel
	}
	return c.cfg.PrimaryModel
}

func (c *Composer) afterFailure(p Phase) Phase {
	if p == PhaseGeneratingPrimary && c.cfg.FallbackModel != "" {
		return PhaseGeneratingFallback
	}
	return PhaseDegraded
}

func (c *Composer) attempt(ctx context.Context, model, prompt string) (llm.Response, error) {
	req := llm.Request{
		Model:       model,
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if c.cfg.Breakers == nil {
		return c.gen.Generate(ctx, req)
	}
	var resp llm.Response
	err := c.cfg.Breakers.Get(model).Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.gen.Generate(ctx, req)
		return err
	})
	return resp, err
}

func describe(attempts []Attempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		switch {
		case errors.Is(a.Err, resilience.ErrOpen):
			parts[i] = fmt.Sprintf("%s: skipped, circuit open", a.Model)
		default:
			parts[i] = fmt.Sprintf("%s: %v", a.Model, a.Err)
		}
	}
	return strings.Join(parts, "; ")
}
