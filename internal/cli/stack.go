package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/eino"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/library"
	loamAdapter "github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/process"
	redisAdapter "github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/scripted"
	"github.com/aretw0/parley/pkg/notify"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/predicate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Stack is a fully wired engine together with the pieces the outer surfaces
// need: the local event stream, the metrics registry and the live catalog.
type Stack struct {
	Engine   *parley.Engine
	Streams  *notify.Broadcaster
	Registry *prometheus.Registry
	Catalog  ports.Catalog
	Logger   *slog.Logger

	closers []func() error
}

// Close releases the connections opened by Build.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build assembles an engine from configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	st := &Stack{
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
		Streams:  notify.NewBroadcaster(notify.WithBuffer(64), notify.WithLogger(logger)),
	}

	repo, client, err := st.buildRepository(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	catalog, err := buildCatalog(cfg.Library, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Catalog = catalog

	generator, err := buildGenerator(ctx, cfg.LLM, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var judge ports.LoopPredicate = predicate.Default()
	if cfg.Engine.JudgeConditions {
		judge = predicate.Chain{predicate.NewExpr(), predicate.Judge{Generator: generator}, predicate.Contains{}}
	}

	opts := []parley.Option{
		parley.WithRepository(repo),
		parley.WithGenerator(generator),
		parley.WithCatalog(catalog),
		parley.WithLoopPredicate(judge),
		parley.WithLogger(logger),
		parley.WithNotifier(st.Streams),
		parley.WithLifecycleHooks(observability.Combine(
			observability.NewMetrics(st.Registry).Hooks(),
			observability.LoggingHooks(logger),
		)),
		parley.WithGenerationTimeout(cfg.Engine.GenerationTimeout),
		parley.WithMaxConsecutiveFailures(cfg.Engine.MaxConsecutiveFailures),
	}
	if cfg.Notify.RedisChannel != "" {
		opts = append(opts, parley.WithNotifier(notify.NewRedisPublisher(client, cfg.Notify.RedisChannel)))
	}
	if cfg.Engine.DistributedLock {
		opts = append(opts, parley.WithDistributedLock(redisAdapter.NewLocker(client, cfg.Store.Prefix), cfg.Engine.LockTTL))
	}

	engine, err := parley.New(opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Engine = engine

	logger.Debug("engine ready",
		"store", cfg.Store.Kind,
		"library", cfg.Library.Kind,
		"provider", cfg.LLM.Provider,
	)
	return st, nil
}

// buildRepository returns the decorated session store and, when a Redis URL
// is configured, a client shared by the locker and the event publisher.
func (s *Stack) buildRepository(cfg *config.Config) (ports.SessionRepository, redis.UniversalClient, error) {
	var (
		repo   ports.SessionRepository
		client redis.UniversalClient
	)

	switch cfg.Store.Kind {
	case "redis":
		r, err := redisAdapter.New(cfg.Store.RedisURL,
			redisAdapter.WithTTL(cfg.Store.TTL),
			redisAdapter.WithPrefix(cfg.Store.Prefix),
		)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, r.Close)
		repo, client = r, r.Client()
	case "file":
		repo = file.New(cfg.Store.Path)
	default:
		repo = memory.NewRepository()
	}

	if client == nil && cfg.Store.RedisURL != "" {
		o, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		c := redis.NewClient(o)
		s.closers = append(s.closers, c.Close)
		client = c
	}

	// Metrics wrap the outermost layer so timings include redaction and encryption.
	mws := []middleware.Middleware{middleware.NewRepositoryMetrics(s.Registry).Middleware()}
	if cfg.Store.Redact {
		patterns := cfg.Store.RedactionPatterns
		if len(patterns) == 0 {
			patterns = middleware.DefaultRedactionPatterns
		}
		mws = append(mws, middleware.NewRedactionMiddleware(patterns))
	}
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, nil, err
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(repo, mws...), client, nil
}

func buildCatalog(cfg config.LibraryConfig, logger *slog.Logger) (ports.Catalog, error) {
	switch cfg.Kind {
	case "loam":
		catalog, err := loamAdapter.Open(cfg.Dir, loamAdapter.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return catalog, nil
	default:
		catalog, err := library.LoadDir(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load library: %w", err)
		}
		return catalog, nil
	}
}

func buildGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (ports.Generator, error) {
	switch cfg.Provider {
	case "process":
		return process.New(cfg.Command, cfg.Args), nil
	case "openai":
	default:
		return scripted.New(), nil
	}
	gen, err := eino.NewOpenAI(ctx, eino.OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, eino.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// WatchLibrary re-indexes a Loam catalog whenever its documents change.
// It is a no-op for other catalogs.
func (s *Stack) WatchLibrary(ctx context.Context, logger *slog.Logger) error {
	c, ok := s.Catalog.(*loamAdapter.Catalog)
	if !ok {
		return nil
	}
	changes, err := c.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for id := range changes {
			logger.Info("library changed", "document", id)
		}
	}()
	return nil
}
