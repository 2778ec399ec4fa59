package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logging logs the start, end and duration of every phase. A nil logger uses
// slog.Default().
func Logging(logger *slog.Logger) Middleware {
	return func(phase Phase, next PhaseFunc) PhaseFunc {
		return func(ctx context.Context, run *Run) error {
			l := logger
			if l == nil {
				l = slog.Default()
			}
			l = l.With("deployment", run.DeploymentID, "run", run.ID, "phase", string(phase))

			l.Debug("phase started")
			start := time.Now()
			err := next(ctx, run)
			elapsed := time.Since(start)
			if err != nil {
				l.Error("phase failed", "duration", elapsed, "error", err)
				return err
			}
			l.Info("phase finished", "duration", elapsed)
			return nil
		}
	}
}

// Span attribute keys.
const (
	AttrDeploymentID = "diamondctl.deployment_id"
	AttrRunID        = "diamondctl.run_id"
	AttrStrategy     = "diamondctl.strategy"
	AttrPhase        = "diamondctl.phase"
	AttrCutRecords   = "diamondctl.cut.records"
	AttrDeployed     = "diamondctl.deployed"
)

// Tracing opens one span per phase, named "diamondctl.<phase>".
func Tracing(tracer trace.Tracer) Middleware {
	return func(phase Phase, next PhaseFunc) PhaseFunc {
		if tracer == nil {
			return next
		}
		return func(ctx context.Context, run *Run) error {
			spanCtx, span := tracer.Start(ctx, "diamondctl."+string(phase), trace.WithAttributes(
				attribute.String(AttrDeploymentID, run.DeploymentID),
				attribute.String(AttrRunID, run.ID),
				attribute.String(AttrStrategy, run.Strategy),
				attribute.String(AttrPhase, string(phase)),
			))
			defer span.End()

			err := next(spanCtx, run)
			span.SetAttributes(
				attribute.Int(AttrDeployed, len(run.Deployed)),
				attribute.Int(AttrCutRecords, len(run.Plan.Records)),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
				return err
			}
			return nil
		}
	}
}

// Metrics records phase counts and durations.
type Metrics struct {
	phases   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates phase metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		phases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diamondctl",
				Subsystem: "pipeline",
				Name:      "phases_total",
				Help:      "Pipeline phases run, by outcome.",
			},
			[]string{"strategy", "phase", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "diamondctl",
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Pipeline phase duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"strategy", "phase", "outcome"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.phases, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("register pipeline metrics: %w", err)
			}
		}
	}
	return m, nil
}

// Middleware returns the phase middleware that feeds m.
func (m *Metrics) Middleware() Middleware {
	return func(phase Phase, next PhaseFunc) PhaseFunc {
		return func(ctx context.Context, run *Run) error {
			start := time.Now()
			err := next(ctx, run)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.phases.WithLabelValues(run.Strategy, string(phase), outcome).Inc()
			m.duration.WithLabelValues(run.Strategy, string(phase), outcome).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
