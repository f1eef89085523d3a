// Package scripted provides a deterministic generator for demos, tests and
// dry runs. It never calls a model.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Generator replays canned replies per speaker and falls back to an echo
// of the prompt when a speaker has none left.
type Generator struct {
	mu       sync.Mutex
	replies  map[string][]string
	failures []error
	calls    int
}

// Option configures the Generator.
type Option func(*Generator)

// WithReplies queues replies for a speaker name. Use "*" to match any speaker.
func WithReplies(speaker string, replies ...string) Option {
	return func(g *Generator) {
		g.replies[speaker] = append(g.replies[speaker], replies...)
	}
}

// WithFailures makes the next calls fail with the given errors, in order.
// A nil entry lets that call succeed.
func WithFailures(errs ...error) Option {
	return func(g *Generator) {
		g.failures = append(g.failures, errs...)
	}
}

// New creates a scripted generator.
func New(opts ...Option) *Generator {
	g := &Generator{replies: make(map[string][]string)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements ports.Generator.
func (g *Generator) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		if err != nil {
			return "", err
		}
	}

	for _, key := range []string{p.Speaker, "*"} {
		if queue := g.replies[key]; len(queue) > 0 {
			g.replies[key] = queue[1:]
			return queue[0], nil
		}
	}
	return echo(p), nil
}

// Calls returns how many times Generate ran.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func echo(p domain.Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", p.Speaker, p.TaskType)
	if p.Target != "" {
		fmt.Fprintf(&b, " to %s", p.Target)
	}
	if n := len(p.Context); n > 0 {
		last := p.Context[n-1]
		fmt.Fprintf(&b, ", answering %s: %q", last.Speaker, domain.Summarize(last.Content))
	}
	return b.String()
}
