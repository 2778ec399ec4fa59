package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/diamondctl/internal/ir"
)

// cutStepHashPrefix is how many hex characters of the payload hash name a
// cut step.
const cutStepHashPrefix = 16

// Remote submits every deployment and the cut proposal to an external
// execution service, polling each to a terminal state. Each submittable unit
// has a stable step name in the StepLedger; executed steps are never
// resubmitted, so an interrupted run resumes where it stopped.
//
// Step names:
//
//	deploy:<cut facet>
//	deploy:<proxy>
//	deploy:<facet>:v<version>
//	cut:<sequence>:<payload hash prefix>
//
// The sequence is one past the cuts already committed for the target, so a
// rerun that resumes an interrupted cut finds its step while a later cut
// with an identical payload, such as removing the same selectors again,
// gets a new one.
type Remote struct {
	base
	broker           Broker
	ledger           StepLedger
	poller           *Poller
	waitForExecution bool
	now              func() time.Time
}

// RemoteOption customizes a Remote strategy.
type RemoteOption func(*Remote)

// WithPoller sets the poller used for every step (default DefaultPollPolicy).
func WithPoller(p *Poller) RemoteOption {
	return func(r *Remote) {
		r.poller = p
	}
}

// WithWaitForExecution makes the cut phase poll the proposal until it is
// executed. Without it a single status check is made and a proposal that is
// not executed yet stops the run with ErrAwaitingApproval.
func WithWaitForExecution(wait bool) RemoteOption {
	return func(r *Remote) {
		r.waitForExecution = wait
	}
}

// WithClock sets the timestamp source for ledger entries.
func WithClock(now func() time.Time) RemoteOption {
	return func(r *Remote) {
		r.now = now
	}
}

// NewRemote creates the asynchronous strategy.
func NewRemote(broker Broker, ledger StepLedger, cfg StrategyConfig, opts ...RemoteOption) (*Remote, error) {
	if broker == nil {
		return nil, fmt.Errorf("remote strategy: broker is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("remote strategy: step ledger is required")
	}
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	r := &Remote{
		base:   b,
		broker: broker,
		ledger: ledger,
		poller: NewPoller(DefaultPollPolicy()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.poller.Policy().Validate(); err != nil {
		return nil, fmt.Errorf("remote strategy: %w", err)
	}
	return r, nil
}

// Name implements Strategy.
func (r *Remote) Name() string { return "remote" }

// step is one submittable unit of remote work.
type step struct {
	name        string
	description string
	submit      func(ctx context.Context) (string, error)
}

// await drives s to a terminal state.
//
// An executed ledger entry returns its recorded result without submitting.
// A pending entry with an external ref resumes polling that ref; if the
// service no longer knows the ref the step is submitted again. Anything
// else submits afresh. With wait the poller runs the full backoff schedule;
// without it one status check is made.
//
// A nil result with a nil error means the step is still in flight.
func (r *Remote) await(ctx context.Context, run *Run, s step, wait bool) (*ir.StepResult, string, error) {
	rec, found, err := r.ledger.Step(ctx, run.DeploymentID, s.name)
	if err != nil {
		return nil, "", fmt.Errorf("read step %s: %w", s.name, err)
	}

	if found && rec.Status == ir.StepExecuted {
		slog.Info("step already executed, skipping submission",
			"deployment", run.DeploymentID,
			"step", s.name,
			"ref", rec.ExternalRef,
		)
		res := rec.Result
		return &res, rec.ExternalRef, nil
	}

	var ref string
	resumed := found && rec.Status == ir.StepPending && rec.ExternalRef != ""
	if resumed {
		ref = rec.ExternalRef
		slog.Info("resuming pending step", "deployment", run.DeploymentID, "step", s.name, "ref", ref)
	} else if ref, err = r.submit(ctx, run, s); err != nil {
		return nil, ref, err
	}

	report, err := r.status(ctx, ref, wait)
	if resumed && errors.Is(err, ErrUnknownRef) {
		slog.Warn("pending step unknown to the service, resubmitting",
			"deployment", run.DeploymentID,
			"step", s.name,
			"ref", ref,
		)
		if ref, err = r.submit(ctx, run, s); err != nil {
			return nil, ref, err
		}
		report, err = r.status(ctx, ref, wait)
	}
	if err != nil {
		return nil, ref, err
	}
	if report == nil {
		return nil, ref, nil
	}

	if report.State == StateFailed {
		if err := r.record(ctx, run, s, ref, ir.StepFailed, ir.StepResult{}); err != nil {
			return nil, ref, err
		}
		return nil, ref, &StepFailedError{StepName: s.name, ExternalRef: ref, Reason: report.Reason}
	}

	if err := r.record(ctx, run, s, ref, ir.StepExecuted, report.Result); err != nil {
		return nil, ref, err
	}
	slog.Info("step executed", "deployment", run.DeploymentID, "step", s.name, "ref", ref)
	res := report.Result
	return &res, ref, nil
}

// submit sends s to the service and records it pending.
func (r *Remote) submit(ctx context.Context, run *Run, s step) (string, error) {
	ref, err := s.submit(ctx)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", s.name, err)
	}
	if err := r.record(ctx, run, s, ref, ir.StepPending, ir.StepResult{}); err != nil {
		return ref, err
	}
	slog.Info("step submitted", "deployment", run.DeploymentID, "step", s.name, "ref", ref)
	return ref, nil
}

func (r *Remote) status(ctx context.Context, ref string, wait bool) (*StatusReport, error) {
	if wait {
		return r.poller.Poll(ctx, ref, r.broker.Status)
	}
	return r.poller.Check(ctx, ref, r.broker.Status)
}

// blocking runs s with full polling and treats a missing result as failure.
func (r *Remote) blocking(ctx context.Context, run *Run, s step) (ir.StepResult, error) {
	res, _, err := r.await(ctx, run, s, true)
	if err != nil {
		return ir.StepResult{}, err
	}
	if res == nil {
		return ir.StepResult{}, fmt.Errorf("%s: %w", s.name, ErrStepIncomplete)
	}
	return *res, nil
}

func (r *Remote) record(ctx context.Context, run *Run, s step, ref string, status ir.StepStatus, res ir.StepResult) error {
	err := r.ledger.UpsertStep(ctx, run.DeploymentID, ir.StepRecord{
		StepName:    s.name,
		ExternalRef: ref,
		Status:      status,
		Description: s.description,
		Timestamp:   r.now().UTC(),
		Result:      res,
	})
	if err != nil {
		return fmt.Errorf("record step %s: %w", s.name, err)
	}
	return nil
}

func cutStepName(sequence int, payloadHash string) string {
	return fmt.Sprintf("cut:%d:%s", sequence, payloadHash[:cutStepHashPrefix])
}

// deployStep names the entry-point deployments deploy:<name> and facet
// deployments deploy:<name>:v<version>.
func (r *Remote) deployStep(req DeployRequest, versioned bool) step {
	name := "deploy:" + req.Name
	desc := "deploy " + req.Name
	if versioned {
		name = fmt.Sprintf("deploy:%s:v%d", req.Name, req.Version)
		desc = fmt.Sprintf("deploy %s v%d", req.Name, req.Version)
	}
	return step{
		name:        name,
		description: desc,
		submit: func(ctx context.Context) (string, error) {
			return r.broker.SubmitDeployment(ctx, req)
		},
	}
}

// DeployEntryPoint submits the cut facet and proxy deployments unless the
// diamond already exists.
func (r *Remote) DeployEntryPoint(ctx context.Context, run *Run) error {
	if !run.Diamond.FirstDeploy() {
		slog.Debug("entry point exists, skipping", "deployment", run.DeploymentID, "diamond", run.Diamond.Address())
		return nil
	}

	owner, err := r.broker.Sender(ctx)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}

	sels, code, err := r.compiled(r.core.CutFacet)
	if err != nil {
		return err
	}
	version, _ := r.cutFacetVersion(run)
	cutRes, err := r.blocking(ctx, run, r.deployStep(DeployRequest{
		Name:      r.core.CutFacet,
		Kind:      KindFacet,
		Version:   version,
		Bytecode:  code,
		Selectors: sels,
	}, false))
	if err != nil {
		return err
	}

	proxyCode, err := r.artifacts.Bytecode(r.core.Proxy)
	if err != nil {
		return fmt.Errorf("bytecode for %s: %w", r.core.Proxy, err)
	}
	proxyRes, err := r.blocking(ctx, run, r.deployStep(DeployRequest{
		Name:            r.core.Proxy,
		Kind:            KindProxy,
		Bytecode:        proxyCode,
		Selectors:       sels,
		ConstructorArgs: []ir.Address{owner, cutRes.Address},
	}, false))
	if err != nil {
		return err
	}

	r.recordEntryPoint(run, owner,
		Deployment{Address: proxyRes.Address, TxRef: proxyRes.TxRef},
		Deployment{Address: cutRes.Address, TxRef: cutRes.TxRef},
		sels,
	)
	return nil
}

// DeployFacets submits one deployment per facet whose target version is
// ahead, reusing executed steps from earlier runs.
func (r *Remote) DeployFacets(ctx context.Context, run *Run) error {
	for _, t := range r.pendingFacets(run) {
		sels, code, err := r.compiled(t.name)
		if err != nil {
			return err
		}
		res, err := r.blocking(ctx, run, r.deployStep(DeployRequest{
			Name:      t.name,
			Kind:      KindFacet,
			Version:   t.version,
			Bytecode:  code,
			Selectors: sels,
		}, true))
		if err != nil {
			return err
		}
		r.recordCandidate(run, t, Deployment{Address: res.Address, TxRef: res.TxRef}, sels)
	}
	return nil
}

// ExecuteCut submits the cut as a proposal whose payload mirrors the cut
// exactly, then persists once the proposal has executed.
func (r *Remote) ExecuteCut(ctx context.Context, run *Run) error {
	plan, err := r.prepareCut(run)
	if err != nil {
		return err
	}
	if plan.Empty() {
		slog.Info("nothing to cut", "deployment", run.DeploymentID)
		return run.Commit(ctx)
	}

	hash, err := ir.CutPayloadHash(plan.Payload())
	if err != nil {
		return err
	}
	proposal := Proposal{
		Diamond:     run.Diamond.Address(),
		Plan:        plan,
		PayloadHash: hash,
		Description: fmt.Sprintf("diamondCut %s: %d records, init %s", run.DeploymentID, len(plan.Records), plan.InitAddress),
	}
	s := step{
		name:        cutStepName(run.Diamond.CutSequence()+1, hash),
		description: proposal.Description,
		submit: func(ctx context.Context) (string, error) {
			return r.broker.SubmitProposal(ctx, proposal)
		},
	}

	res, ref, err := r.await(ctx, run, s, r.waitForExecution)
	if err != nil {
		return err
	}
	if res == nil {
		if !r.waitForExecution {
			return fmt.Errorf("%s (ref=%s): %w", s.name, ref, ErrAwaitingApproval)
		}
		return fmt.Errorf("%s (ref=%s): %w", s.name, ref, ErrStepIncomplete)
	}

	run.CutRef = res.TxRef
	if run.CutRef == "" {
		run.CutRef = ref
	}
	run.CutSubmitted = true
	return run.Commit(ctx)
}
