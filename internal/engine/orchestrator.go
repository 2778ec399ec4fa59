package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/diamondctl/internal/diamond"
)

// Orchestrator drives the fixed five-phase pipeline for one deployment id.
//
// Phases run strictly in order. The first phase error aborts the run and is
// returned wrapped in a PhaseError together with the partial Result.
type Orchestrator struct {
	repo       diamond.Repository
	strategy   Strategy
	middleware []Middleware
	runIDs     RunIDGenerator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMiddleware appends phase middleware. The first middleware given is the
// outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(o *Orchestrator) {
		o.middleware = append(o.middleware, mws...)
	}
}

// WithRunIDGenerator sets the run id source (default UUIDv7Generator).
func WithRunIDGenerator(gen RunIDGenerator) Option {
	return func(o *Orchestrator) {
		o.runIDs = gen
	}
}

// New creates an Orchestrator for repo using strategy.
func New(repo diamond.Repository, strategy Strategy, opts ...Option) (*Orchestrator, error) {
	if repo == nil {
		return nil, fmt.Errorf("orchestrator: repository is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("orchestrator: strategy is required")
	}
	o := &Orchestrator{
		repo:     repo,
		strategy: strategy,
		runIDs:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run loads the desired configuration and the deployed aggregate, then runs
// every phase.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg, err := o.repo.LoadDeployConfig(ctx)
	if err != nil {
		return nil, err
	}
	d, err := diamond.Load(ctx, o.repo)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:           o.runIDs.Generate(),
		Strategy:     o.strategy.Name(),
		DeploymentID: o.repo.DeploymentID(),
		Config:       cfg,
		Diamond:      d,
		repo:         o.repo,
		firstDeploy:  d.FirstDeploy(),
	}

	slog.Info("deployment run started",
		"deployment", run.DeploymentID,
		"run", run.ID,
		"strategy", run.Strategy,
		"first_deploy", run.firstDeploy,
		"protocol_version", cfg.ProtocolVersion,
	)

	for _, phase := range Phases() {
		if err := ctx.Err(); err != nil {
			return run.result(), &PhaseError{Phase: phase, DeploymentID: run.DeploymentID, Err: err}
		}
		fn := chain(phase, phaseFunc(o.strategy, phase), o.middleware)
		if err := fn(ctx, run); err != nil {
			return run.result(), &PhaseError{Phase: phase, DeploymentID: run.DeploymentID, Err: err}
		}
	}

	slog.Info("deployment run finished",
		"deployment", run.DeploymentID,
		"run", run.ID,
		"deployed", len(run.Deployed),
		"cut_records", len(run.Plan.Records),
		"cut_submitted", run.CutSubmitted,
	)
	return run.result(), nil
}
