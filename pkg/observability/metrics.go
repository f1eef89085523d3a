package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Steps       *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Rounds      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_steps_total",
				Help: "Total number of executed steps",
			},
			[]string{"task_type", "jumped"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_status_transitions_total",
				Help: "Session status transitions",
			},
			[]string{"from", "to"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_generation_failures_total",
				Help: "Failed generation calls",
			},
			[]string{"status"},
		),
		Rounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_session_rounds",
				Help:    "Rounds executed by sessions when they end",
				Buckets: prometheus.LinearBuckets(1, 5, 10),
			},
		),
	}
	reg.MustRegister(m.Steps, m.Transitions, m.Failures, m.Rounds)
	return m
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepCompleted: func(_ context.Context, e *domain.Event) {
			taskType := ""
			if e.Message != nil {
				taskType = e.Message.TaskType
			}
			jumped := false
			if e.Execution != nil {
				jumped = e.Execution.Jumped
			}
			m.Steps.WithLabelValues(taskType, strconv.FormatBool(jumped)).Inc()
		},
		OnStatusChanged: func(_ context.Context, e *domain.Event) {
			m.Transitions.WithLabelValues(string(e.PreviousStatus), string(e.Status)).Inc()
			if e.Status.IsTerminal() {
				m.Rounds.Observe(float64(e.Round))
			}
		},
		OnGenerationFailed: func(_ context.Context, e *domain.Event) {
			m.Failures.WithLabelValues(string(e.Status)).Inc()
		},
	}
}
