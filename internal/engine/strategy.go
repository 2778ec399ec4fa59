package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/reconcile"
)

// CoreNames are the contract names of the proxy and its mandatory cut facet.
// The cut facet is always active even when the configuration omits it.
type CoreNames struct {
	Proxy    string
	CutFacet string
}

// DefaultCoreNames returns the conventional ERC-2535 contract names.
func DefaultCoreNames() CoreNames {
	return CoreNames{Proxy: "Diamond", CutFacet: "DiamondCutFacet"}
}

// StrategyConfig holds the collaborators shared by every strategy.
type StrategyConfig struct {
	Artifacts ArtifactSource

	// Callbacks runs post-deploy callbacks. May be nil when no configured
	// facet declares callbacks.
	Callbacks CallbackRunner

	// Core defaults to DefaultCoreNames when empty.
	Core CoreNames
}

// base implements the phase logic every strategy shares. Strategies embed it
// and supply the parts that talk to a chain or a service.
type base struct {
	artifacts ArtifactSource
	callbacks CallbackRunner
	core      CoreNames
}

func newBase(cfg StrategyConfig) (base, error) {
	if cfg.Artifacts == nil {
		return base{}, fmt.Errorf("strategy: artifact source is required")
	}
	core := cfg.Core
	if core.Proxy == "" || core.CutFacet == "" {
		def := DefaultCoreNames()
		if core.Proxy == "" {
			core.Proxy = def.Proxy
		}
		if core.CutFacet == "" {
			core.CutFacet = def.CutFacet
		}
	}
	return base{artifacts: cfg.Artifacts, callbacks: cfg.Callbacks, core: core}, nil
}

// facetTarget is a configured facet version that must be deployed.
type facetTarget struct {
	name     string
	version  int
	priority int
	spec     ir.VersionSpec
}

// pendingFacets returns configured facets whose target version is ahead of
// the recorded one, in priority order. A facet at version V is never
// redeployed for a target at or below V.
func (b *base) pendingFacets(run *Run) []facetTarget {
	var out []facetTarget
	for _, name := range run.Config.FacetNames() {
		fc := run.Config.Facets[name]
		version, spec, ok := fc.TargetVersion()
		if !ok {
			continue
		}
		if rec, deployed := run.Diamond.DeployedFacet(name); deployed && rec.Version >= version {
			slog.Debug("facet up to date",
				"deployment", run.DeploymentID,
				"facet", name,
				"deployed_version", rec.Version,
				"target_version", version,
			)
			continue
		}
		out = append(out, facetTarget{name: name, version: version, priority: fc.Priority, spec: spec})
	}
	return out
}

// compiled fetches selectors and bytecode for name.
func (b *base) compiled(name string) ([]ir.Selector, []byte, error) {
	sels, err := b.artifacts.Selectors(name)
	if err != nil {
		return nil, nil, fmt.Errorf("selectors for %s: %w", name, err)
	}
	code, err := b.artifacts.Bytecode(name)
	if err != nil {
		return nil, nil, fmt.Errorf("bytecode for %s: %w", name, err)
	}
	return sels, code, nil
}

// cutFacetVersion returns the configured version and priority of the cut
// facet, zero when it is not configured.
func (b *base) cutFacetVersion(run *Run) (version, priority int) {
	fc, ok := run.Config.Facets[b.core.CutFacet]
	if !ok {
		return 0, 0
	}
	version, _, _ = fc.TargetVersion()
	return version, fc.Priority
}

// recordEntryPoint stores the proxy and registers the cut facet as live.
func (b *base) recordEntryPoint(run *Run, owner ir.Address, proxy, cutFacet Deployment, sels []ir.Selector) {
	version, priority := b.cutFacetVersion(run)
	run.Diamond.RecordEntryPoint(proxy.Address, owner)
	run.Diamond.RecordDeployed(b.core.CutFacet, ir.FacetDeploymentRecord{
		Address:   cutFacet.Address,
		TxRef:     cutFacet.TxRef,
		Version:   version,
		Selectors: sels,
		Priority:  priority,
	})
	run.Deployed = append(run.Deployed, FacetDeployment{
		Name:     b.core.CutFacet,
		Version:  version,
		Address:  cutFacet.Address,
		TxRef:    cutFacet.TxRef,
		Priority: priority,
	})
	slog.Info("entry point deployed",
		"deployment", run.DeploymentID,
		"diamond", proxy.Address,
		"owner", owner,
		"cut_facet", cutFacet.Address,
	)
}

// recordCandidate registers a freshly deployed facet as a candidate.
func (b *base) recordCandidate(run *Run, t facetTarget, dep Deployment, sels []ir.Selector) {
	run.Diamond.AddCandidate(t.name, ir.FacetDeploymentRecord{
		Address:       dep.Address,
		TxRef:         dep.TxRef,
		Version:       t.version,
		Selectors:     sels,
		DeployInclude: t.spec.DeployInclude,
		DeployExclude: t.spec.DeployExclude,
		InitFunction:  t.spec.InitFunction(run.firstDeploy),
		Priority:      t.priority,
	})
	run.Deployed = append(run.Deployed, FacetDeployment{
		Name:     t.name,
		Version:  t.version,
		Address:  dep.Address,
		TxRef:    dep.TxRef,
		Priority: t.priority,
	})
	slog.Info("facet deployed",
		"deployment", run.DeploymentID,
		"facet", t.name,
		"version", t.version,
		"address", dep.Address,
		"selectors", len(sels),
	)
}

// activeFacets is every configured facet plus the cut facet.
func (b *base) activeFacets(run *Run) map[string]bool {
	active := make(map[string]bool, len(run.Config.Facets)+1)
	for name := range run.Config.Facets {
		active[name] = true
	}
	active[b.core.CutFacet] = true
	return active
}

// ReconcileRegistry applies all candidates to the registry.
func (b *base) ReconcileRegistry(_ context.Context, run *Run) error {
	names := run.Diamond.CandidateNames()
	candidates := make([]reconcile.Candidate, 0, len(names))
	for _, name := range names {
		rec, _ := run.Diamond.Candidate(name)
		candidates = append(candidates, reconcile.Candidate{Name: name, Record: rec})
	}

	reg := reconcile.Reconcile(run.Diamond.Registry(), candidates, b.activeFacets(run))
	run.Diamond.SetRegistry(reg)

	slog.Info("registry reconciled",
		"deployment", run.DeploymentID,
		"candidates", len(candidates),
		"selectors", len(reg),
	)
	return nil
}

// prepareCut computes and validates the cut and binds the initializer.
// Nothing is submitted once this returns an error.
func (b *base) prepareCut(run *Run) (cut.Plan, error) {
	reg := run.Diamond.Registry()
	if err := cut.ValidateRegistry(reg); err != nil {
		return cut.Plan{}, err
	}

	plan := cut.Compute(reg)
	if err := cut.ValidateNoOrphanedSelectors(plan.Records); err != nil {
		return cut.Plan{}, err
	}

	initCall, err := cut.ResolveInitializer(cut.InitInput{
		Config:                  run.Config,
		FirstDeploy:             run.firstDeploy,
		DeployedProtocolVersion: run.Diamond.ProtocolVersion(),
		Candidates:              run.Diamond.Candidates(),
		Deployed:                run.Diamond.DeployedFacets(),
	})
	if err != nil {
		return cut.Plan{}, err
	}
	run.Diamond.BindInitializer(initCall)
	plan.InitAddress = initCall.Address
	plan.InitCalldata = initCall.Calldata
	run.Plan = plan

	slog.Info("cut computed",
		"deployment", run.DeploymentID,
		"records", len(plan.Records),
		"init_facet", initCall.FacetName,
		"init_function", initCall.Function,
		"init_address", plan.InitAddress,
	)
	return plan, nil
}

// RunCallbacks runs the callbacks declared by facet versions deployed in
// this run, in priority order. The first failure aborts.
func (b *base) RunCallbacks(ctx context.Context, run *Run) error {
	deployed := make([]FacetDeployment, len(run.Deployed))
	copy(deployed, run.Deployed)
	sort.SliceStable(deployed, func(i, j int) bool {
		if deployed[i].Priority != deployed[j].Priority {
			return deployed[i].Priority < deployed[j].Priority
		}
		return deployed[i].Name < deployed[j].Name
	})

	for _, dep := range deployed {
		spec := run.Config.Facets[dep.Name].Versions[dep.Version]
		if len(spec.Callbacks) == 0 {
			continue
		}
		if b.callbacks == nil {
			return fmt.Errorf("facet %s v%d declares callbacks but no callback runner is configured", dep.Name, dep.Version)
		}
		slog.Info("running callbacks",
			"deployment", run.DeploymentID,
			"facet", dep.Name,
			"version", dep.Version,
			"callbacks", spec.Callbacks,
		)
		if err := b.callbacks.Run(ctx, dep.Name, spec.Callbacks, run.Diamond); err != nil {
			return err
		}
	}
	return nil
}
