package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// LoggingHooks logs every lifecycle event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepCompleted: func(ctx context.Context, e *domain.Event) {
			attrs := []any{logging.SessionID(e.SessionID), logging.Round(e.Round)}
			if e.Execution != nil {
				attrs = append(attrs,
					logging.StepOrder(e.Execution.StepOrder),
					slog.Int("next_pointer", e.Execution.NextPointer),
					slog.Bool("jumped", e.Execution.Jumped),
				)
			}
			logger.InfoContext(ctx, "step_completed", attrs...)
		},
		OnStatusChanged: func(ctx context.Context, e *domain.Event) {
			logger.InfoContext(ctx, "status_changed",
				logging.SessionID(e.SessionID),
				slog.String("from", string(e.PreviousStatus)),
				logging.Status(e.Status),
			)
		},
		OnGenerationFailed: func(ctx context.Context, e *domain.Event) {
			logger.WarnContext(ctx, "generation_failed",
				logging.SessionID(e.SessionID),
				slog.String("reason", e.Reason),
			)
		},
	}
}

// Combine calls every hook set in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	fan := func(pick func(domain.LifecycleHooks) func(context.Context, *domain.Event)) func(context.Context, *domain.Event) {
		var fns []func(context.Context, *domain.Event)
		for _, s := range sets {
			if fn := pick(s); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(ctx context.Context, e *domain.Event) {
			for _, fn := range fns {
				fn(ctx, e)
			}
		}
	}
	return domain.LifecycleHooks{
		OnStepCompleted:    fan(func(h domain.LifecycleHooks) func(context.Context, *domain.Event) { return h.OnStepCompleted }),
		OnStatusChanged:    fan(func(h domain.LifecycleHooks) func(context.Context, *domain.Event) { return h.OnStatusChanged }),
		OnGenerationFailed: fan(func(h domain.LifecycleHooks) func(context.Context, *domain.Event) { return h.OnGenerationFailed }),
	}
}
