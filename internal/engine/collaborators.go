package engine

import (
	"context"
	"fmt"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/ir"
)

// ArtifactSource supplies the compiled form of a facet.
type ArtifactSource interface {
	// Selectors returns the callable surface of the named contract.
	Selectors(name string) ([]ir.Selector, error)

	// Bytecode returns the deployable creation code of the named contract.
	Bytecode(name string) ([]byte, error)
}

// DeployKind distinguishes the proxy from ordinary contracts.
type DeployKind string

const (
	KindFacet DeployKind = "facet"
	KindProxy DeployKind = "proxy"
)

// DeployRequest describes one contract creation.
type DeployRequest struct {
	Name     string
	Kind     DeployKind
	Version  int
	Bytecode []byte

	// Selectors is the contract's callable surface. Backends that model the
	// proxy's constructor cut use the cut facet's selectors from here.
	Selectors []ir.Selector

	// ConstructorArgs are address arguments. For KindProxy: owner, cut facet.
	ConstructorArgs []ir.Address
}

// Deployment is a confirmed contract creation.
type Deployment struct {
	Address ir.Address
	TxRef   string
}

// Executor broadcasts state-changing calls and waits for confirmation.
// Used by the Local strategy.
type Executor interface {
	// Sender returns the account calls are sent from.
	Sender(ctx context.Context) (ir.Address, error)

	// DeployContract creates a contract and returns its confirmed address.
	DeployContract(ctx context.Context, req DeployRequest) (Deployment, error)

	// DiamondCut applies plan to the diamond at addr in one transaction,
	// calling the initializer it carries, and returns the transaction ref.
	DiamondCut(ctx context.Context, addr ir.Address, plan cut.Plan) (string, error)
}

// RemoteState is a status reported by an external execution service.
// Only StateCompleted and StateFailed are terminal; any other value means
// the request is still in flight.
type RemoteState string

const (
	StateCompleted RemoteState = "completed"
	StateFailed    RemoteState = "failed"
)

// Terminal reports whether polling can stop.
func (s RemoteState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StatusReport is the service's view of a submitted request.
type StatusReport struct {
	State  RemoteState
	Result ir.StepResult
	Reason string
}

// Proposal is a diamondCut submitted for external approval. Its payload
// mirrors the cut exactly.
type Proposal struct {
	Diamond     ir.Address
	Plan        cut.Plan
	PayloadHash string
	Description string
}

// Broker submits requests to an external execution service and reports
// their status. Used by the Remote strategy.
type Broker interface {
	// Sender returns the account the service executes as.
	Sender(ctx context.Context) (ir.Address, error)

	SubmitDeployment(ctx context.Context, req DeployRequest) (string, error)
	SubmitProposal(ctx context.Context, p Proposal) (string, error)

	// Status reports the state of a submitted request. Errors wrap
	// ErrUnknownRef when the service has no record of ref.
	Status(ctx context.Context, ref string) (StatusReport, error)
}

// StepLedger records the lifecycle of every submitted unit of remote work.
// *store.Store implements it.
type StepLedger interface {
	Step(ctx context.Context, deploymentID, stepName string) (ir.StepRecord, bool, error)
	UpsertStep(ctx context.Context, deploymentID string, step ir.StepRecord) error
}

// CallbackRunner executes post-deploy callbacks declared by a facet version.
type CallbackRunner interface {
	Run(ctx context.Context, facet string, callbacks []string, d *diamond.Diamond) error
}

// CallbackFunc is one named post-deploy callback.
type CallbackFunc func(ctx context.Context, facet string, d *diamond.Diamond) error

// Callbacks is a CallbackRunner backed by a map of callback ids.
type Callbacks map[string]CallbackFunc

// Register adds fn under id, replacing any previous registration.
func (c Callbacks) Register(id string, fn CallbackFunc) {
	c[id] = fn
}

// Run invokes each callback in order and stops at the first error.
// An unknown id is an error.
func (c Callbacks) Run(ctx context.Context, facet string, callbacks []string, d *diamond.Diamond) error {
	for _, id := range callbacks {
		fn, ok := c[id]
		if !ok {
			return fmt.Errorf("callback %q for facet %s is not registered", id, facet)
		}
		if err := fn(ctx, facet, d); err != nil {
			return fmt.Errorf("callback %q for facet %s: %w", id, facet, err)
		}
	}
	return nil
}
