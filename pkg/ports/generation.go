package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Generator produces the content of one message.
// Implementations must honor ctx cancellation; the engine applies the timeout.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt domain.Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	return f(ctx, prompt)
}

// LoopPredicate decides whether a step's exit condition holds.
// Errors are treated by the engine as "condition not met".
type LoopPredicate interface {
	Evaluate(ctx context.Context, condition string, last *domain.Message) (bool, error)
}

// Notifier pushes committed changes to observers.
type Notifier interface {
	Notify(ctx context.Context, event *domain.Event) error
}
