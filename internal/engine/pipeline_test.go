package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/sim"
	"github.com/roach88/diamondctl/internal/testutil"
)

func TestLocal_FreshDiamondDisjointFacets(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1, s2}, v(1))
	f.facet("B", 20, []ir.Selector{s3}, v(1))
	f.facet("C", 30, []ir.Selector{s4, s5}, v(1))

	res, err := f.runLocal()
	require.NoError(t, err)

	assert.Equal(t, []string{"DiamondCutFacet", "Diamond", "A", "B", "C"}, f.chain.Deployments())
	require.Len(t, f.chain.Cuts(), 1)
	records := f.chain.Cuts()[0].Plan.Records
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, ir.ActionAdd, rec.Action, rec.FacetName)
	}

	assert.True(t, res.FirstDeploy)
	assert.True(t, res.CutSubmitted)
	assert.True(t, res.Persisted)

	assert.Equal(t, map[ir.Selector]string{
		selCut: "DiamondCutFacet",
		s1:     "A", s2: "A",
		s3: "B",
		s4: "C", s5: "C",
	}, f.table(res.DiamondAddress))

	state, found := f.state()
	require.True(t, found)
	assert.Equal(t, res.DiamondAddress, state.DiamondAddress)
	assert.Equal(t, []string{"DiamondCutFacet", "A", "B", "C"}, state.FacetNames())
	assert.Equal(t, 1, state.ProtocolVersion)
}

func TestLocal_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1, s2}, v(1))

	first, err := f.runLocal()
	require.NoError(t, err)
	deployments := len(f.chain.Deployments())

	second, err := f.runLocal()
	require.NoError(t, err)

	assert.Len(t, f.chain.Deployments(), deployments)
	assert.Len(t, f.chain.Cuts(), 1)
	assert.False(t, second.FirstDeploy)
	assert.False(t, second.CutSubmitted)
	assert.Empty(t, second.Deployed)
	assert.Empty(t, second.Cut)
	assert.Equal(t, first.State, second.State)
}

func TestLocal_ExcludeOnUpgrade(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1, s2}, v(0))
	_, err := f.runLocal()
	require.NoError(t, err)
	before, _ := f.state()

	f.facet("A", 10, []ir.Selector{s1, s2}, map[int]ir.VersionSpec{
		0: {},
		1: {DeployExclude: []ir.Selector{s2}},
	})
	res, err := f.runLocal()
	require.NoError(t, err)

	require.Len(t, res.Deployed, 1)
	upgraded := res.Deployed[0].Address
	assert.Equal(t, []ir.CutRecord{
		{FacetAddress: upgraded, Action: ir.ActionReplace, Selectors: []ir.Selector{s1}, FacetName: "A"},
		{FacetAddress: ir.ZeroAddress, Action: ir.ActionRemove, Selectors: []ir.Selector{s2}, FacetName: "A"},
	}, res.Cut)

	state, _ := f.state()
	assert.Equal(t, []ir.Selector{s1}, state.DeployedFacets["A"].Selectors)
	assert.Equal(t, 1, state.DeployedFacets["A"].Version)
	assert.NotEqual(t, before.DeployedFacets["A"].Address, state.DeployedFacets["A"].Address)

	table := f.chain.Table(res.DiamondAddress)
	assert.Equal(t, upgraded, table[s1])
	assert.NotContains(t, table, s2)
}

func TestLocal_SharedSelectorStaysWithLowerPriorityValue(t *testing.T) {
	f := newFixture(t)
	f.facet("B", 20, []ir.Selector{s3, s6}, v(1))
	f.facet("C", 40, []ir.Selector{s3, s7}, v(1))

	res, err := f.runLocal()
	require.NoError(t, err)

	assert.Equal(t, map[ir.Selector]string{
		selCut: "DiamondCutFacet",
		s3:     "B", s6: "B",
		s7: "C",
	}, f.table(res.DiamondAddress))

	state, _ := f.state()
	assert.Equal(t, []ir.Selector{s3, s6}, state.DeployedFacets["B"].Selectors)
	assert.Equal(t, []ir.Selector{s7}, state.DeployedFacets["C"].Selectors)
}

func TestLocal_IncludeForceReplaces(t *testing.T) {
	f := newFixture(t)
	f.facet("E", 50, []ir.Selector{s5}, v(1))
	_, err := f.runLocal()
	require.NoError(t, err)

	f.facet("D", 10, []ir.Selector{s6}, map[int]ir.VersionSpec{
		1: {DeployInclude: []ir.Selector{s5}},
	})
	res, err := f.runLocal()
	require.NoError(t, err)

	require.Len(t, res.Deployed, 1)
	dAddr := res.Deployed[0].Address
	assert.Contains(t, res.Cut, ir.CutRecord{
		FacetAddress: dAddr, Action: ir.ActionReplace, Selectors: []ir.Selector{s5}, FacetName: "D",
	})
	assert.Equal(t, "D", f.table(res.DiamondAddress)[s5])

	state, _ := f.state()
	assert.NotContains(t, state.DeployedFacets, "E", "E has no live selectors left")
	assert.Equal(t, []ir.Selector{s5, s6}, state.DeployedFacets["D"].Selectors)
}

func TestLocal_UnconfiguredFacetIsRemoved(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, v(1))
	f.facet("B", 20, []ir.Selector{s2}, v(1))
	_, err := f.runLocal()
	require.NoError(t, err)

	delete(f.cfg.Facets, "B")
	res, err := f.runLocal()
	require.NoError(t, err)

	assert.Equal(t, []ir.CutRecord{
		{FacetAddress: ir.ZeroAddress, Action: ir.ActionRemove, Selectors: []ir.Selector{s2}, FacetName: "B"},
	}, res.Cut)
	assert.NotContains(t, f.chain.Table(res.DiamondAddress), s2)

	state, _ := f.state()
	assert.Equal(t, []string{"DiamondCutFacet", "A"}, state.FacetNames())
}

func TestLocal_VersionsNeverGoBackwards(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, v(2))
	_, err := f.runLocal()
	require.NoError(t, err)
	deployments := len(f.chain.Deployments())

	f.facet("A", 10, []ir.Selector{s1}, v(1))
	res, err := f.runLocal()
	require.NoError(t, err)

	assert.Len(t, f.chain.Deployments(), deployments)
	assert.Empty(t, res.Deployed)
	state, _ := f.state()
	assert.Equal(t, 2, state.DeployedFacets["A"].Version)
}

func TestLocal_InitializerOnDeployAndUpgrade(t *testing.T) {
	f := newFixture(t)
	f.cfg.ProtocolInitFacet = "Init"
	f.facet("Init", 0, []ir.Selector{s8}, map[int]ir.VersionSpec{
		1: {DeployInit: "initialize", UpgradeInit: "upgradeV1"},
	})

	first, err := f.runLocal()
	require.NoError(t, err)
	initAddr := first.Deployed[1].Address
	require.Len(t, f.chain.Cuts(), 1)
	plan := f.chain.Cuts()[0].Plan
	assert.Equal(t, initAddr, plan.InitAddress)
	assert.Equal(t, cut.EncodeCall("initialize"), plan.InitCalldata)

	// Same protocol version: nothing to initialize.
	_, err = f.runLocal()
	require.NoError(t, err)
	assert.Len(t, f.chain.Cuts(), 1)

	f.cfg.ProtocolVersion = 2
	f.facet("Init", 0, []ir.Selector{s8}, map[int]ir.VersionSpec{
		1: {DeployInit: "initialize", UpgradeInit: "upgradeV1"},
		2: {UpgradeInit: "upgradeV2"},
	})
	upgrade, err := f.runLocal()
	require.NoError(t, err)
	require.Len(t, f.chain.Cuts(), 2)
	plan = f.chain.Cuts()[1].Plan
	assert.Equal(t, upgrade.Deployed[0].Address, plan.InitAddress)
	assert.Equal(t, cut.EncodeCall("upgradeV2"), plan.InitCalldata)

	state, _ := f.state()
	assert.Equal(t, 2, state.ProtocolVersion)
}

func TestLocal_ProtocolVersionBumpWithoutFacetChanges(t *testing.T) {
	f := newFixture(t)
	f.cfg.ProtocolInitFacet = "Init"
	f.facet("Init", 0, []ir.Selector{s8}, map[int]ir.VersionSpec{
		1: {DeployInit: "initialize"},
		2: {UpgradeInit: "migrate"},
	})
	f.cfg.ProtocolVersion = 1
	_, err := f.runLocal()
	require.NoError(t, err)

	// Init v2 is already the deployed target, so the bump only calls the
	// upgrade initializer on the deployed address.
	f.cfg.ProtocolVersion = 2
	res, err := f.runLocal()
	require.NoError(t, err)

	state, _ := f.state()
	assert.Empty(t, res.Cut)
	assert.True(t, res.CutSubmitted)
	assert.Equal(t, state.DeployedFacets["Init"].Address, res.InitAddress)
	assert.Equal(t, 2, state.ProtocolVersion)
}

func TestLocal_CutRejectedLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, v(1))
	_, err := f.runLocal()
	require.NoError(t, err)
	before, _ := f.state()

	f.facet("A", 10, []ir.Selector{s1}, v(2))
	f.chain.FailNext(sim.CutFailure, "paused")
	res, err := f.runLocal()
	require.Error(t, err)

	phase, ok := engine.FailedPhase(err)
	require.True(t, ok)
	assert.Equal(t, engine.PhaseCut, phase)
	assert.False(t, res.Persisted)

	after, _ := f.state()
	assert.Equal(t, before, after)
}

func TestLocal_CallbacksRunOncePerDeployedVersion(t *testing.T) {
	f := newFixture(t)
	var calls []string
	var seenAddr ir.Address
	f.callbacks.Register("seed", func(_ context.Context, facet string, d *diamond.Diamond) error {
		calls = append(calls, facet)
		seenAddr = d.Address()
		return nil
	})
	f.facet("B", 20, []ir.Selector{s2}, map[int]ir.VersionSpec{1: {Callbacks: []string{"seed"}}})
	f.facet("A", 10, []ir.Selector{s1}, map[int]ir.VersionSpec{1: {Callbacks: []string{"seed"}}})

	res, err := f.runLocal()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, calls)
	assert.Equal(t, res.DiamondAddress, seenAddr)

	_, err = f.runLocal()
	require.NoError(t, err)
	assert.Len(t, calls, 2, "nothing redeployed, nothing rerun")
}

func TestLocal_CallbackFailureAfterPersist(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("seed failed")
	f.callbacks.Register("seed", func(context.Context, string, *diamond.Diamond) error { return boom })
	f.facet("A", 10, []ir.Selector{s1}, map[int]ir.VersionSpec{1: {Callbacks: []string{"seed"}}})

	res, err := f.runLocal()
	require.ErrorIs(t, err, boom)
	phase, _ := engine.FailedPhase(err)
	assert.Equal(t, engine.PhaseCallbacks, phase)
	assert.True(t, res.Persisted)

	state, found := f.state()
	require.True(t, found)
	assert.Contains(t, state.DeployedFacets, "A")
}

func TestLocal_MissingCallbackRunner(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, map[int]ir.VersionSpec{1: {Callbacks: []string{"seed"}}})

	l, err := engine.NewLocal(f.chain, engine.StrategyConfig{Artifacts: f.artifacts})
	require.NoError(t, err)
	_, err = f.run(l)
	assert.ErrorContains(t, err, "no callback runner")
}

func TestLocal_MissingArtifact(t *testing.T) {
	f := newFixture(t)
	f.cfg.Facets["Ghost"] = ir.FacetConfig{Priority: 1, Versions: v(1)}

	_, err := f.runLocal()
	require.Error(t, err)
	phase, _ := engine.FailedPhase(err)
	assert.Equal(t, engine.PhaseFacets, phase)
}

func TestPreview_PersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1, s2}, v(1))

	p, err := engine.NewPreview(f.strategyConfig())
	require.NoError(t, err)
	res, err := f.run(p)
	require.NoError(t, err)

	assert.Empty(t, f.chain.Deployments())
	assert.False(t, res.Persisted)
	assert.False(t, res.CutSubmitted)
	assert.Equal(t, []ir.CutRecord{
		{FacetAddress: ir.PlaceholderAddress("A", 1), Action: ir.ActionAdd, Selectors: []ir.Selector{s1, s2}, FacetName: "A"},
	}, res.Cut)

	_, found := f.state()
	assert.False(t, found)

	again, err := f.run(p)
	require.NoError(t, err)
	assert.Equal(t, res.Cut, again.Cut, "previews are deterministic")
}

func TestPreview_UpgradeAgainstDeployedState(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, v(1))
	_, err := f.runLocal()
	require.NoError(t, err)
	deployments := len(f.chain.Deployments())

	f.facet("A", 10, []ir.Selector{s1}, v(2))
	p, err := engine.NewPreview(f.strategyConfig())
	require.NoError(t, err)
	res, err := f.run(p)
	require.NoError(t, err)

	assert.False(t, res.FirstDeploy)
	assert.Len(t, f.chain.Deployments(), deployments)
	assert.Equal(t, []ir.CutRecord{
		{FacetAddress: ir.PlaceholderAddress("A", 2), Action: ir.ActionReplace, Selectors: []ir.Selector{s1}, FacetName: "A"},
	}, res.Cut)

	state, _ := f.state()
	assert.Equal(t, 1, state.DeployedFacets["A"].Version)
}

func TestOrchestrator_MiddlewareWrapsEveryPhase(t *testing.T) {
	f := newFixture(t)
	f.facet("A", 10, []ir.Selector{s1}, v(1))

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(reg)
	require.NoError(t, err)

	var phases []engine.Phase
	hooks := engine.Hooks(func(_ context.Context, phase engine.Phase, _ *engine.Run) error {
		phases = append(phases, phase)
		return nil
	}, nil)

	l, err := engine.NewLocal(f.chain, f.strategyConfig())
	require.NoError(t, err)
	o, err := engine.New(f.repo(), l,
		engine.WithMiddleware(engine.Logging(nil), engine.Tracing(tracer), metrics.Middleware(), hooks),
		engine.WithRunIDGenerator(testutil.FixedRunID("run-1")),
	)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "local", res.Strategy)
	assert.Equal(t, engine.Phases(), phases)
	assert.Len(t, recorder.Ended(), len(engine.Phases()))

	count, err := promtest.GatherAndCount(reg, "diamondctl_pipeline_phases_total")
	require.NoError(t, err)
	assert.Equal(t, len(engine.Phases()), count)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	f := newFixture(t)
	l, err := engine.NewLocal(f.chain, f.strategyConfig())
	require.NoError(t, err)
	o, err := engine.New(f.repo(), l)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.chain.Deployments())
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	l, err := engine.NewLocal(f.chain, f.strategyConfig())
	require.NoError(t, err)

	_, err = engine.New(nil, l)
	assert.Error(t, err)
	_, err = engine.New(f.repo(), nil)
	assert.Error(t, err)

	_, err = engine.NewLocal(nil, f.strategyConfig())
	assert.Error(t, err)
	_, err = engine.NewLocal(f.chain, engine.StrategyConfig{})
	assert.Error(t, err, "artifacts are required")
	_, err = engine.NewRemote(nil, f.store, f.strategyConfig())
	assert.Error(t, err)
	_, err = engine.NewRemote(f.chain, nil, f.strategyConfig())
	assert.Error(t, err)
}
