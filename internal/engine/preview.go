package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/diamondctl/internal/ir"
)

// Preview computes the cut a deployment would submit without deploying or
// persisting anything. Undeployed contracts get placeholder addresses derived
// from their name and version, so the same configuration always previews the
// same plan.
type Preview struct {
	base
}

// NewPreview creates the planning strategy. Only selectors are read from the
// artifact source.
func NewPreview(cfg StrategyConfig) (*Preview, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Preview{base: b}, nil
}

// Name implements Strategy.
func (p *Preview) Name() string { return "preview" }

// DeployEntryPoint records placeholder proxy and cut facet addresses on a
// first deploy.
func (p *Preview) DeployEntryPoint(_ context.Context, run *Run) error {
	if !run.Diamond.FirstDeploy() {
		return nil
	}
	sels, err := p.artifacts.Selectors(p.core.CutFacet)
	if err != nil {
		return err
	}
	version, _ := p.cutFacetVersion(run)
	p.recordEntryPoint(run, ir.ZeroAddress,
		Deployment{Address: ir.PlaceholderAddress(p.core.Proxy, 0)},
		Deployment{Address: ir.PlaceholderAddress(p.core.CutFacet, version)},
		sels,
	)
	return nil
}

// DeployFacets records placeholder candidates for facets that would deploy.
func (p *Preview) DeployFacets(_ context.Context, run *Run) error {
	for _, t := range p.pendingFacets(run) {
		sels, err := p.artifacts.Selectors(t.name)
		if err != nil {
			return err
		}
		p.recordCandidate(run, t, Deployment{Address: ir.PlaceholderAddress(t.name, t.version)}, sels)
	}
	return nil
}

// ExecuteCut computes and validates the cut only.
func (p *Preview) ExecuteCut(_ context.Context, run *Run) error {
	_, err := p.prepareCut(run)
	return err
}

// RunCallbacks does nothing; callbacks need a live diamond.
func (p *Preview) RunCallbacks(_ context.Context, run *Run) error {
	slog.Debug("preview skips callbacks", "deployment", run.DeploymentID)
	return nil
}
