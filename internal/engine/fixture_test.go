package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/diamondctl/internal/artifact"
	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/sim"
	"github.com/roach88/diamondctl/internal/store"
)

var (
	selCut = ir.SelectorFromSignature("diamondCut((address,uint8,bytes4[])[],address,bytes)")

	s1 = ir.MustParseSelector("0x00000001")
	s2 = ir.MustParseSelector("0x00000002")
	s3 = ir.MustParseSelector("0x00000003")
	s4 = ir.MustParseSelector("0x00000004")
	s5 = ir.MustParseSelector("0x00000005")
	s6 = ir.MustParseSelector("0x00000006")
	s7 = ir.MustParseSelector("0x00000007")
	s8 = ir.MustParseSelector("0x00000008")
)

var testTarget = diamond.Target{Name: "core", Network: "local", ChainID: 31337}

// fixture wires a real SQLite store and a simulated chain.
type fixture struct {
	t         *testing.T
	store     *store.Store
	chain     *sim.Chain
	artifacts artifact.Static
	cfg       ir.DeployConfig
	callbacks engine.Callbacks
}

func newFixture(t *testing.T, opts ...sim.Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		t:     t,
		store: st,
		chain: sim.New(opts...),
		artifacts: artifact.Static{
			"DiamondCutFacet": {Selectors: []ir.Selector{selCut}, Bytecode: []byte("cut")},
			"Diamond":         {Bytecode: []byte("proxy")},
		},
		cfg:       ir.DeployConfig{ProtocolVersion: 1, Facets: map[string]ir.FacetConfig{}},
		callbacks: engine.Callbacks{},
	}
}

// facet configures name at priority with the given versions and registers
// its artifact.
func (f *fixture) facet(name string, priority int, sels []ir.Selector, versions map[int]ir.VersionSpec) {
	f.artifacts[name] = artifact.Contract{Selectors: sels, Bytecode: []byte(name)}
	f.cfg.Facets[name] = ir.FacetConfig{Priority: priority, Versions: versions}
}

func (f *fixture) repo() *store.Repository {
	repo, err := store.NewRepository(f.store, testTarget, store.StaticConfig(f.cfg))
	require.NoError(f.t, err)
	return repo
}

func (f *fixture) strategyConfig() engine.StrategyConfig {
	return engine.StrategyConfig{Artifacts: f.artifacts, Callbacks: f.callbacks}
}

func (f *fixture) run(strategy engine.Strategy) (*engine.Result, error) {
	o, err := engine.New(f.repo(), strategy)
	require.NoError(f.t, err)
	return o.Run(context.Background())
}

func (f *fixture) runLocal() (*engine.Result, error) {
	l, err := engine.NewLocal(f.chain, f.strategyConfig())
	require.NoError(f.t, err)
	return f.run(l)
}

// noWait never sleeps.
func noWait(context.Context, time.Duration) error { return nil }

func (f *fixture) runRemote(maxAttempts int, opts ...engine.RemoteOption) (*engine.Result, error) {
	poller := engine.NewPoller(engine.PollPolicy{MaxAttempts: maxAttempts}, engine.WithSleep(noWait))
	opts = append([]engine.RemoteOption{engine.WithPoller(poller)}, opts...)
	r, err := engine.NewRemote(f.chain, f.store, f.strategyConfig(), opts...)
	require.NoError(f.t, err)
	return f.run(r)
}

func (f *fixture) state() (ir.DeployedDiamondData, bool) {
	data, found, err := f.store.LoadDeployedDiamondData(context.Background(), testTarget.DeploymentID())
	require.NoError(f.t, err)
	return data, found
}

func (f *fixture) steps() map[string]ir.StepRecord {
	steps, err := f.store.Steps(context.Background(), testTarget.DeploymentID())
	require.NoError(f.t, err)
	out := map[string]ir.StepRecord{}
	for _, s := range steps {
		out[s.StepName] = s
	}
	return out
}

// table maps each routed selector to the facet name deployed at its address.
func (f *fixture) table(diamondAddr ir.Address) map[ir.Selector]string {
	out := map[ir.Selector]string{}
	for sel, addr := range f.chain.Table(diamondAddr) {
		name, _, _ := f.chain.Contract(addr)
		out[sel] = name
	}
	return out
}

func v(version int) map[int]ir.VersionSpec {
	return map[int]ir.VersionSpec{version: {}}
}
