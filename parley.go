package parley

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/library"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/scripted"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/notify"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/predicate"
	"github.com/aretw0/parley/pkg/session"
)

// CreateRequest describes a new session: a template (by ID or inline), the
// casting of its speaker refs and an optional topic override.
type CreateRequest = runtime.CreateRequest

// Engine is the high-level entry point for the Parley library.
// It wraps the internal runtime and provides a simplified API for consumers.
type Engine struct {
	*runtime.Engine

	repo        ports.SessionRepository
	generator   ports.Generator
	catalog     ports.Catalog
	libraryDir  string
	predicate   ports.LoopPredicate
	notifiers   []ports.Notifier
	hooks       domain.LifecycleHooks
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	logger      *slog.Logger
	runtimeOpts []runtime.EngineOption
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithRepository sets the session store. Defaults to an in-memory store.
func WithRepository(repo ports.SessionRepository) Option {
	return func(e *Engine) { e.repo = repo }
}

// WithGenerator sets the text generator. Defaults to a scripted echo generator.
func WithGenerator(g ports.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithCatalog sets the source of roles and templates.
func WithCatalog(c ports.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithLibrary loads roles and templates from a directory of YAML bundles.
// Ignored when WithCatalog is also given.
func WithLibrary(dir string) Option {
	return func(e *Engine) { e.libraryDir = dir }
}

// WithLoopPredicate sets the evaluator of exit conditions.
// Defaults to predicate.Default().
func WithLoopPredicate(p ports.LoopPredicate) Option {
	return func(e *Engine) { e.predicate = p }
}

// WithNotifier adds an event sink. May be given several times.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithDistributedLock serializes Advance across processes.
func WithDistributedLock(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithGenerationTimeout bounds a single generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithGenerationTimeout(d))
	}
}

// WithMaxConsecutiveFailures sets how many failed generations in a row
// move a session to failed.
func WithMaxConsecutiveFailures(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxConsecutiveFailures(n))
	}
}

// WithIDGenerator overrides how session and message IDs are produced.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithIDGenerator(fn))
	}
}

// New initializes a new Parley Engine. Without options it runs fully
// in-process: memory store, scripted generator, no catalog.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if eng.repo == nil {
		eng.repo = memory.NewRepository()
	}
	if eng.generator == nil {
		eng.generator = scripted.New()
	}
	if eng.predicate == nil {
		eng.predicate = predicate.Default()
	}
	if eng.catalog == nil && eng.libraryDir != "" {
		catalog, err := library.LoadDir(eng.libraryDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load library: %w", err)
		}
		eng.catalog = catalog
	}

	managerOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(eng.locker))
		if eng.lockTTL > 0 {
			managerOpts = append(managerOpts, session.WithLockTTL(eng.lockTTL))
		}
	}

	runtimeOpts := []runtime.EngineOption{
		runtime.WithSessionManager(session.NewManager(eng.repo, managerOpts...)),
		runtime.WithLoopPredicate(eng.predicate),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
	}
	if eng.catalog != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCatalog(eng.catalog))
	}
	switch len(eng.notifiers) {
	case 0:
	case 1:
		runtimeOpts = append(runtimeOpts, runtime.WithNotifier(eng.notifiers[0]))
	default:
		runtimeOpts = append(runtimeOpts, runtime.WithNotifier(notify.Multi(eng.notifiers)))
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)

	eng.Engine = runtime.NewEngine(eng.repo, eng.generator, runtimeOpts...)
	return eng, nil
}

// Repository returns the session store used by the engine.
func (e *Engine) Repository() ports.SessionRepository {
	return e.repo
}

// Run advances a session until it stops: finished, failed, terminated or
// paused. Failed generations below the failure cap are retried. onStep, if
// non-nil, is called after every executed step.
func (e *Engine) Run(ctx context.Context, sessionID string, onStep func(*domain.AdvanceResult)) (*domain.Session, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := e.Session(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.Status.IsTerminal() || s.Status == domain.StatusPaused {
			return s, nil
		}

		res, err := e.Advance(ctx, sessionID)
		if err != nil {
			if domain.KindOf(err) == domain.KindGenerationFailure && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		if onStep != nil {
			onStep(res)
		}
	}
}
