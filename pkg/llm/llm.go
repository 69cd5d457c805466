// Package llm is a chat-completion client for Groq's OpenAI-compatible API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/medtext/medrag/engine/domain"
)

const (
	DefaultBaseURL       = "https://api.groq.com/openai/v1"
	DefaultPrimaryModel  = "llama-3.3-70b-versatile"
	DefaultFallbackModel = "llama-3.1-8b-instant"
	DefaultMaxTokens     = 2048
	DefaultTemperature   = 0.3
	DefaultTimeout       = 60 * time.Second
)

// ErrEmptyCompletion is returned when the service answers with no choices.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Request is one generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Response is the generated text and the model that produced it.
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client paces requests with a token bucket and bounds each call with a
// timeout. It never retries.
type Client struct {
	api     chatAPI
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRate limits calls to rps per second with the given burst. rps <= 0
// disables pacing.
func WithRate(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a client for baseURL. An empty API key is a configuration error.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &domain.ConfigError{Field: "GROQ_API_KEY", Reason: "not set", Err: domain.ErrMissingCredential}
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg.BaseURL = baseURL
	return NewWithAPI(openai.NewClientWithConfig(cfg), opts...), nil
}

// NewWithAPI wraps an existing chat API.
func NewWithAPI(api chatAPI, opts ...Option) *Client {
	c := &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate sends one system+user exchange. Failures come back as
// *domain.ServiceError; deadline and cancellation keep their context cause.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	op := "generate " + req.Model
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, domain.WrapService("generation", op, waitErr(ctx, err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		c.logger.Warn("generation failed", "model", req.Model, "kind", Classify(err), "duration", time.Since(start), "err", err)
		return Response{}, domain.WrapService("generation", op, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Response{}, domain.WrapService("generation", op, ErrEmptyCompletion)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	c.logger.Info("generation done", "model", model, "tokens", resp.Usage.TotalTokens, "duration", time.Since(start))
	return Response{Text: resp.Choices[0].Message.Content, Model: model, TokensUsed: resp.Usage.TotalTokens}, nil
}

// rate.Limiter.Wait reports "would exceed context deadline" before the
// deadline passes; map that to DeadlineExceeded.
func waitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// Kind is a coarse failure class used in logs and metrics.
type Kind string

const (
	KindNone      Kind = ""
	KindAuth      Kind = "auth"
	KindRate      Kind = "rate_limit"
	KindQuota     Kind = "quota"
	KindContext   Kind = "context_length"
	KindTimeout   Kind = "timeout"
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Classify buckets a generation error.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return KindAuth
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return KindRate
		case apiErr.HTTPStatusCode >= 500:
			return KindTransient
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "insufficient"):
		return KindQuota
	case strings.Contains(msg, "rate"), strings.Contains(msg, "429"):
		return KindRate
	case strings.Contains(msg, "context length"), strings.Contains(msg, "too long"):
		return KindContext
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "temporarily"):
		return KindTransient
	}
	return KindPermanent
}
