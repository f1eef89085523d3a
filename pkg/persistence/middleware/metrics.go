package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// RepositoryMetrics times repository calls by operation and outcome.
type RepositoryMetrics struct {
	Duration *prometheus.HistogramVec
}

// NewRepositoryMetrics creates and registers the collectors on reg.
func NewRepositoryMetrics(reg prometheus.Registerer) *RepositoryMetrics {
	m := &RepositoryMetrics{
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_repository_duration_seconds",
				Help:    "Duration of session repository calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "outcome"},
		),
	}
	reg.MustRegister(m.Duration)
	return m
}

// Middleware returns the instrumenting middleware.
func (m *RepositoryMetrics) Middleware() Middleware {
	return func(next ports.SessionRepository) ports.SessionRepository {
		return &metricsMiddleware{next: next, metrics: m}
	}
}

type metricsMiddleware struct {
	next    ports.SessionRepository
	metrics *RepositoryMetrics
}

func (m *metricsMiddleware) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	m.metrics.Duration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *metricsMiddleware) Create(ctx context.Context, s *domain.Session) (err error) {
	defer func(start time.Time) { m.observe("create", start, err) }(time.Now())
	return m.next.Create(ctx, s)
}

func (m *metricsMiddleware) Load(ctx context.Context, id string) (s *domain.Session, err error) {
	defer func(start time.Time) { m.observe("load", start, err) }(time.Now())
	return m.next.Load(ctx, id)
}

func (m *metricsMiddleware) Update(ctx context.Context, s *domain.Session) (err error) {
	defer func(start time.Time) { m.observe("update", start, err) }(time.Now())
	return m.next.Update(ctx, s)
}

func (m *metricsMiddleware) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) (err error) {
	defer func(start time.Time) { m.observe("append_message", start, err) }(time.Now())
	return m.next.AppendMessage(ctx, s, msg)
}

func (m *metricsMiddleware) Messages(ctx context.Context, id string) (msgs []*domain.Message, err error) {
	defer func(start time.Time) { m.observe("messages", start, err) }(time.Now())
	return m.next.Messages(ctx, id)
}

func (m *metricsMiddleware) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { m.observe("delete", start, err) }(time.Now())
	return m.next.Delete(ctx, id)
}

func (m *metricsMiddleware) List(ctx context.Context) (ids []string, err error) {
	defer func(start time.Time) { m.observe("list", start, err) }(time.Now())
	return m.next.List(ctx)
}
