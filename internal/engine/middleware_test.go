package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/diamondctl/internal/diamond"
)

func testRun() *Run {
	return &Run{ID: "run-1", Strategy: "local", DeploymentID: "core:local:31337"}
}

func noop(context.Context, *Run) error { return nil }

func TestChain_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(phase Phase, next PhaseFunc) PhaseFunc {
			return func(ctx context.Context, run *Run) error {
				order = append(order, name+":before")
				err := next(ctx, run)
				order = append(order, name+":after")
				return err
			}
		}
	}
	core := func(context.Context, *Run) error {
		order = append(order, "core")
		return nil
	}

	fn := chain(PhaseCut, core, []Middleware{mark("outer"), mark("inner")})
	require.NoError(t, fn(context.Background(), testRun()))

	assert.Equal(t, []string{"outer:before", "inner:before", "core", "inner:after", "outer:after"}, order)
}

func TestHooks_RunAroundPhase(t *testing.T) {
	var seen []string
	mw := Hooks(
		func(_ context.Context, phase Phase, _ *Run) error {
			seen = append(seen, "pre:"+string(phase))
			return nil
		},
		func(_ context.Context, phase Phase, _ *Run) error {
			seen = append(seen, "post:"+string(phase))
			return nil
		},
	)

	require.NoError(t, mw(PhaseFacets, noop)(context.Background(), testRun()))
	assert.Equal(t, []string{"pre:facets", "post:facets"}, seen)
}

func TestHooks_PreHookErrorSkipsPhase(t *testing.T) {
	boom := errors.New("not allowed")
	called := false
	mw := Hooks(func(context.Context, Phase, *Run) error { return boom }, nil)

	err := mw(PhaseCut, func(context.Context, *Run) error {
		called = true
		return nil
	})(context.Background(), testRun())

	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestHooks_PostHookSkippedOnFailure(t *testing.T) {
	boom := errors.New("phase failed")
	post := false
	mw := Hooks(nil, func(context.Context, Phase, *Run) error {
		post = true
		return nil
	})

	err := mw(PhaseCut, func(context.Context, *Run) error { return boom })(context.Background(), testRun())
	assert.ErrorIs(t, err, boom)
	assert.False(t, post)
}

func TestLogging_LogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	require.NoError(t, Logging(logger)(PhaseRegistry, noop)(context.Background(), testRun()))
	assert.Contains(t, buf.String(), `"msg":"phase finished"`)
	assert.Contains(t, buf.String(), `"phase":"registry"`)
	assert.Contains(t, buf.String(), `"deployment":"core:local:31337"`)

	buf.Reset()
	boom := errors.New("boom")
	err := Logging(logger)(PhaseCut, func(context.Context, *Run) error { return boom })(context.Background(), testRun())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"msg":"phase failed"`)
}

func TestTracing_OneSpanPerPhase(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("diamondctl-test")

	boom := errors.New("boom")
	run := testRun()
	require.NoError(t, Tracing(tracer)(PhaseFacets, noop)(context.Background(), run))
	require.ErrorIs(t, Tracing(tracer)(PhaseCut, func(context.Context, *Run) error { return boom })(context.Background(), run), boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "diamondctl.facets", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "diamondctl.cut", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var deployment string
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == AttrDeploymentID {
			deployment = kv.Value.AsString()
		}
	}
	assert.Equal(t, "core:local:31337", deployment)
}

func TestTracing_NilTracerPassesThrough(t *testing.T) {
	assert.NoError(t, Tracing(nil)(PhaseCut, noop)(context.Background(), testRun()))
}

func TestMetrics_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	mw := m.Middleware()
	require.NoError(t, mw(PhaseCut, noop)(context.Background(), testRun()))
	require.NoError(t, mw(PhaseCut, noop)(context.Background(), testRun()))
	require.Error(t, mw(PhaseFacets, func(context.Context, *Run) error { return errors.New("x") })(context.Background(), testRun()))

	assert.Equal(t, 2.0, promtest.ToFloat64(m.phases.WithLabelValues("local", "cut", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.phases.WithLabelValues("local", "facets", "error")))
	assert.Equal(t, 2, promtest.CollectAndCount(m.duration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestCallbacks_RunInOrderAndStopOnError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	cbs := Callbacks{}
	cbs.Register("first", func(_ context.Context, facet string, _ *diamond.Diamond) error {
		calls = append(calls, "first:"+facet)
		return nil
	})
	cbs.Register("second", func(context.Context, string, *diamond.Diamond) error {
		calls = append(calls, "second")
		return boom
	})
	cbs.Register("third", func(context.Context, string, *diamond.Diamond) error {
		calls = append(calls, "third")
		return nil
	})

	err := cbs.Run(context.Background(), "A", []string{"first", "second", "third"}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first:A", "second"}, calls)

	err = cbs.Run(context.Background(), "A", []string{"missing"}, nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestPhaseError_Unwraps(t *testing.T) {
	err := error(&PhaseError{Phase: PhaseCut, DeploymentID: "id", Err: ErrAwaitingApproval})
	assert.ErrorIs(t, err, ErrAwaitingApproval)

	phase, found := FailedPhase(err)
	assert.True(t, found)
	assert.Equal(t, PhaseCut, phase)

	_, found = FailedPhase(errors.New("plain"))
	assert.False(t, found)
}

func TestStepFailedError(t *testing.T) {
	err := error(&StepFailedError{StepName: "deploy:A:v1", ExternalRef: "ref", Reason: "reverted"})
	assert.True(t, IsStepFailed(err))
	assert.Contains(t, err.Error(), "deploy:A:v1")
	assert.Contains(t, err.Error(), "reverted")
}
