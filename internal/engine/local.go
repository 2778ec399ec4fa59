package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/diamondctl/internal/ir"
)

// Local deploys and cuts synchronously through an Executor.
type Local struct {
	base
	exec Executor
}

// NewLocal creates the synchronous strategy.
func NewLocal(exec Executor, cfg StrategyConfig) (*Local, error) {
	if exec == nil {
		return nil, fmt.Errorf("local strategy: executor is required")
	}
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Local{base: b, exec: exec}, nil
}

// Name implements Strategy.
func (l *Local) Name() string { return "local" }

// DeployEntryPoint deploys the cut facet and the proxy unless the diamond
// already exists.
func (l *Local) DeployEntryPoint(ctx context.Context, run *Run) error {
	if !run.Diamond.FirstDeploy() {
		slog.Debug("entry point exists, skipping", "deployment", run.DeploymentID, "diamond", run.Diamond.Address())
		return nil
	}

	owner, err := l.exec.Sender(ctx)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}

	sels, code, err := l.compiled(l.core.CutFacet)
	if err != nil {
		return err
	}
	version, _ := l.cutFacetVersion(run)
	cutDep, err := l.exec.DeployContract(ctx, DeployRequest{
		Name:      l.core.CutFacet,
		Kind:      KindFacet,
		Version:   version,
		Bytecode:  code,
		Selectors: sels,
	})
	if err != nil {
		return fmt.Errorf("deploy %s: %w", l.core.CutFacet, err)
	}

	proxyCode, err := l.artifacts.Bytecode(l.core.Proxy)
	if err != nil {
		return fmt.Errorf("bytecode for %s: %w", l.core.Proxy, err)
	}
	proxyDep, err := l.exec.DeployContract(ctx, DeployRequest{
		Name:            l.core.Proxy,
		Kind:            KindProxy,
		Bytecode:        proxyCode,
		Selectors:       sels,
		ConstructorArgs: []ir.Address{owner, cutDep.Address},
	})
	if err != nil {
		return fmt.Errorf("deploy %s: %w", l.core.Proxy, err)
	}

	l.recordEntryPoint(run, owner, proxyDep, cutDep, sels)
	return nil
}

// DeployFacets deploys every facet whose target version is ahead.
func (l *Local) DeployFacets(ctx context.Context, run *Run) error {
	for _, t := range l.pendingFacets(run) {
		sels, code, err := l.compiled(t.name)
		if err != nil {
			return err
		}
		dep, err := l.exec.DeployContract(ctx, DeployRequest{
			Name:      t.name,
			Kind:      KindFacet,
			Version:   t.version,
			Bytecode:  code,
			Selectors: sels,
		})
		if err != nil {
			return fmt.Errorf("deploy %s v%d: %w", t.name, t.version, err)
		}
		l.recordCandidate(run, t, dep, sels)
	}
	return nil
}

// ExecuteCut submits the cut and its initializer as one transaction, then
// persists the rebuilt state. An empty cut submits nothing but still
// persists.
func (l *Local) ExecuteCut(ctx context.Context, run *Run) error {
	plan, err := l.prepareCut(run)
	if err != nil {
		return err
	}

	if plan.Empty() {
		slog.Info("nothing to cut", "deployment", run.DeploymentID)
	} else {
		txRef, err := l.exec.DiamondCut(ctx, run.Diamond.Address(), plan)
		if err != nil {
			return fmt.Errorf("diamondCut: %w", err)
		}
		run.CutRef = txRef
		run.CutSubmitted = true
		slog.Info("cut executed", "deployment", run.DeploymentID, "tx", txRef, "records", len(plan.Records))
	}

	return run.Commit(ctx)
}
