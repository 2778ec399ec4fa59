// Package harness runs deployment scenarios end to end.
//
// A scenario is a YAML file that describes contract ABIs, a sequence of
// desired configurations and assertions on the outcome. Each scenario runs
// the real orchestrator with the local strategy against a fresh simulated
// chain and a fresh in-memory state database, so consecutive runs exercise
// first deploys, upgrades and resumption exactly like separate CLI
// invocations would.
//
// The harness records a trace of observable outcomes (facet deployments, cut
// records, initializer calls, persisted state and callbacks). Traces contain
// no addresses or transaction references, so they are stable across chain
// implementations and can be compared against golden files.
//
// Callback ids declared by a configuration are registered automatically.
// Ids starting with "fail" return an error when run.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/diamondctl/internal/artifact"
	"github.com/roach88/diamondctl/internal/config"
	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/sim"
	"github.com/roach88/diamondctl/internal/store"
	"github.com/roach88/diamondctl/internal/testutil"
)

// Target is the deployment every scenario runs against.
var Target = diamond.Target{Name: "scenario", Network: "local", ChainID: 31337}

// Harness is the scenario execution engine.
// It runs scenarios with a fixed run id and a deterministic chain.
type Harness struct {
	store     *store.Store
	chain     *sim.Chain
	artifacts artifact.Static
	runIDs    testutil.FixedRunID
	logger    *slog.Logger

	// callbacks collects callback events for the run in progress.
	callbacks []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and simulated chain
// 2. Execute every run, recording its trace
// 3. Load the persisted state and the dispatch table
// 4. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	artifacts := artifact.Static{
		"Diamond":         artifact.FromSignatures("Diamond"),
		"DiamondCutFacet": artifact.FromSignatures("DiamondCutFacet", "diamondCut((address,uint8,bytes4[])[],address,bytes)"),
	}
	if err := applyArtifacts(artifacts, scenario.Artifacts); err != nil {
		return nil, err
	}

	h := &Harness{
		store:     st,
		chain:     sim.New(),
		artifacts: artifacts,
		runIDs:    testutil.FixedRunID(scenario.RunID),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Runs {
		if err := h.executeRun(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	state, found, err := st.LoadDeployedDiamondData(ctx, Target.DeploymentID())
	if err != nil {
		return nil, fmt.Errorf("failed to load final state: %w", err)
	}
	if found {
		result.State = state
		for sel, addr := range h.chain.Table(state.DiamondAddress) {
			name, _, _ := h.chain.Contract(addr)
			result.Routes[sel] = name
		}
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeRun runs one pipeline and checks its expected outcome.
// Errors are returned only for problems with the scenario itself; a run
// that fails is recorded in the trace.
func (h *Harness) executeRun(ctx context.Context, index int, step RunStep, result *Result) error {
	if err := applyArtifacts(h.artifacts, step.Artifacts); err != nil {
		return err
	}

	cfg, err := checkConfig(step.Config)
	if err != nil {
		return err
	}

	if step.Fail != nil {
		h.chain.FailNext(step.Fail.Target, step.Fail.Reason)
	}

	repo, err := store.NewRepository(h.store, Target, store.StaticConfig(cfg))
	if err != nil {
		return err
	}
	local, err := engine.NewLocal(h.chain, engine.StrategyConfig{
		Artifacts: h.artifacts,
		Callbacks: h.callbackRunner(index, cfg),
	})
	if err != nil {
		return err
	}
	o, err := engine.New(repo, local,
		engine.WithRunIDGenerator(h.runIDs),
		engine.WithMiddleware(engine.Logging(h.logger)),
	)
	if err != nil {
		return err
	}

	h.callbacks = nil
	res, runErr := o.Run(ctx)
	h.record(index, res, runErr, result)
	checkExpect(index, step.Expect, res, runErr, result)
	return nil
}

// record appends the observable outcome of one run to the trace.
func (h *Harness) record(index int, res *engine.Result, runErr error, result *Result) {
	if res != nil {
		for _, dep := range res.Deployed {
			result.addEvent(TraceEvent{Type: EventDeploy, Run: index, Facet: dep.Name, Version: dep.Version})
		}
		if res.CutSubmitted {
			for _, rec := range res.Cut {
				result.addEvent(TraceEvent{
					Type:      EventCut,
					Run:       index,
					Facet:     rec.FacetName,
					Action:    rec.Action,
					Selectors: rec.Selectors,
				})
			}
			if res.InitCalldata != "" && res.InitCalldata != "0x" {
				result.addEvent(TraceEvent{Type: EventInit, Run: index, Calldata: res.InitCalldata})
			}
		}
		if res.Persisted {
			result.addEvent(TraceEvent{
				Type:            EventPersist,
				Run:             index,
				Facets:          len(res.State.DeployedFacets),
				ProtocolVersion: res.State.ProtocolVersion,
			})
		}
	}
	for _, e := range h.callbacks {
		e.Run = index
		result.addEvent(e)
	}
	if runErr != nil {
		phase, _ := engine.FailedPhase(runErr)
		result.addEvent(TraceEvent{Type: EventError, Run: index, Phase: string(phase)})
	}
}

// callbackRunner registers every callback id cfg declares. Each callback
// records a trace event when it runs.
func (h *Harness) callbackRunner(index int, cfg ir.DeployConfig) engine.Callbacks {
	runner := engine.Callbacks{}
	for _, fc := range cfg.Facets {
		for _, spec := range fc.Versions {
			for _, id := range spec.Callbacks {
				runner.Register(id, func(_ context.Context, facet string, _ *diamond.Diamond) error {
					h.callbacks = append(h.callbacks, TraceEvent{Type: EventCallback, Facet: facet, Callback: id})
					if strings.HasPrefix(id, "fail") {
						return fmt.Errorf("run %d: callback %s failed", index, id)
					}
					return nil
				})
			}
		}
	}
	return runner
}

// checkExpect compares how a run ended with its expect clause.
func checkExpect(index int, expect *RunExpect, res *engine.Result, runErr error, result *Result) {
	if expect == nil {
		expect = &RunExpect{}
	}

	switch {
	case expect.Error == "" && runErr != nil:
		result.AddError(fmt.Sprintf("run %d: unexpected error: %v", index, runErr))
	case expect.Error != "" && runErr == nil:
		result.AddError(fmt.Sprintf("run %d: expected error containing %q, got success", index, expect.Error))
	case expect.Error != "" && !strings.Contains(runErr.Error(), expect.Error):
		result.AddError(fmt.Sprintf("run %d: expected error containing %q, got %v", index, expect.Error, runErr))
	}

	if expect.Phase != "" {
		phase, ok := engine.FailedPhase(runErr)
		if !ok || string(phase) != expect.Phase {
			result.AddError(fmt.Sprintf("run %d: expected failure in phase %s, got %q", index, expect.Phase, phase))
		}
	}

	if expect.Persisted != nil {
		persisted := res != nil && res.Persisted
		if persisted != *expect.Persisted {
			result.AddError(fmt.Sprintf("run %d: expected persisted=%t, got %t", index, *expect.Persisted, persisted))
		}
	}
}

// checkConfig puts a scenario config through the same schema and semantic
// checks a config file gets.
func checkConfig(cfg ir.DeployConfig) (ir.DeployConfig, error) {
	data, err := config.MarshalYAML(cfg)
	if err != nil {
		return ir.DeployConfig{}, err
	}
	checked, err := config.ParseYAML(data)
	if err != nil {
		return ir.DeployConfig{}, fmt.Errorf("config: %w", err)
	}
	if errs := config.Validate(checked); len(errs) > 0 {
		return ir.DeployConfig{}, fmt.Errorf("config: %w", errors.Join(validationErrors(errs)...))
	}
	return checked, nil
}

func validationErrors(errs []config.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// applyArtifacts adds or replaces contracts in dst.
func applyArtifacts(dst artifact.Static, abis map[string][]string) error {
	for name, abi := range abis {
		sels, err := parseABI(abi)
		if err != nil {
			return fmt.Errorf("artifact %s: %w", name, err)
		}
		dst[name] = artifact.Contract{Selectors: sels, Bytecode: []byte("bytecode:" + name)}
	}
	return nil
}
