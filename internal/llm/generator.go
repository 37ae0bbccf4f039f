package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgallion1/charmem/internal/retry"
)

// Generator produces one complete response for a single-turn prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

type opKey struct{}

// WithOp tags ctx with the analysis operation name used for stats.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

func opFrom(ctx context.Context) string {
	if op, ok := ctx.Value(opKey{}).(string); ok {
		return op
	}
	return "unlabeled"
}

// Instrumented records latency and outcome of every call.
type Instrumented struct {
	next  Generator
	stats *Stats
	model string
}

func NewInstrumented(next Generator, stats *Stats, model string) *Instrumented {
	return &Instrumented{next: next, stats: stats, model: model}
}

func (g *Instrumented) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	start := time.Now()
	out, err := g.next.Complete(ctx, prompt, temperature)
	g.stats.Record(opFrom(ctx), time.Since(start), err != nil)
	return out, err
}

// Model names the backing model.
func (g *Instrumented) Model() string { return g.model }

// Stats exposes the collected samples.
func (g *Instrumented) Stats() *Stats { return g.stats }

// Retrying retries transient upstream failures with backoff.
type Retrying struct {
	next     Generator
	attempts int
	sleep    func(int) time.Duration
}

func NewRetrying(next Generator, attempts int) *Retrying {
	return &Retrying{next: next, attempts: attempts, sleep: retry.Backoff}
}

func (g *Retrying) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	var out string
	err := retry.Do(ctx, g.attempts, g.sleep, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, prompt, temperature)
		return err
	})
	return out, err
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
