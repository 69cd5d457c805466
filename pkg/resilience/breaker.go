// Package resilience holds circuit breakers for external model calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls rejected until the cool-down ends
	StateHalfOpen              // one probe call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without calling through while a breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Opts configures a Breaker.
type Opts struct {
	FailThreshold int           // consecutive failures that open the breaker
	Cooldown      time.Duration // time spent open before a probe is allowed
}

// DefaultOpts opens after 3 consecutive failures for 30s.
var DefaultOpts = Opts{FailThreshold: 3, Cooldown: 30 * time.Second}

// Breaker counts consecutive failures of one dependency. Caller
// cancellation is not counted as a failure.
type Breaker struct {
	mu       sync.Mutex
	opts     Opts
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker creates a closed breaker. Zero fields take DefaultOpts values.
func NewBreaker(opts Opts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOpts.Cooldown
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current moves open to half-open once the cool-down elapsed. Must hold mu.
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Call runs f unless the breaker rejects it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	switch b.current() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	switch {
	case err == nil:
		b.state = StateClosed
		b.failures = 0
	case errors.Is(err, context.Canceled):
		// the caller went away; says nothing about the dependency
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
		}
	}
	return err
}

// Set lazily creates one breaker per key, e.g. per model name.
type Set struct {
	mu       sync.Mutex
	opts     Opts
	breakers map[string]*Breaker
}

// NewSet creates an empty Set.
func NewSet(opts Opts) *Set {
	return &Set{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.opts)
		s.breakers[key] = b
	}
	return b
}
