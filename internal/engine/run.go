package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/ir"
)

// FacetDeployment is a facet version deployed during a run.
type FacetDeployment struct {
	Name     string     `json:"name"`
	Version  int        `json:"version"`
	Address  ir.Address `json:"address"`
	TxRef    string     `json:"tx_ref"`
	Priority int        `json:"priority"`
}

// Run is the context object threaded through every phase of one pipeline
// execution. Strategies read configuration from it and record their output
// on it.
type Run struct {
	ID           string
	Strategy     string
	DeploymentID string
	Config       ir.DeployConfig
	Diamond      *diamond.Diamond

	// Deployed lists facets deployed in this run, in deployment order.
	Deployed []FacetDeployment

	// Plan is the cut computed in the cut phase.
	Plan cut.Plan

	// CutRef is the transaction or proposal reference of the submitted cut.
	CutRef string

	// CutSubmitted is true when a non-empty cut was submitted or resumed.
	CutSubmitted bool

	// Persisted is true once the rebuilt state was saved.
	Persisted bool

	repo        diamond.Repository
	firstDeploy bool
}

// FirstDeploy reports whether the diamond had no proxy when the run started.
// It is the only deploy-versus-upgrade flag.
func (r *Run) FirstDeploy() bool {
	return r.firstDeploy
}

// Commit rebuilds DeployedDiamondData from the registry's live entries, saves
// it through the repository and replays it into the aggregate. Called once
// per completed cut phase.
func (r *Run) Commit(ctx context.Context) error {
	version := max(r.Config.ProtocolVersion, r.Diamond.ProtocolVersion())
	data := r.Diamond.Rebuild(version)
	if r.CutSubmitted {
		data.CutSequence++
	}
	if err := r.repo.SaveDeployedDiamondData(ctx, data); err != nil {
		return fmt.Errorf("persist deployed state: %w", err)
	}
	r.Diamond.Commit(data)
	r.Persisted = true
	slog.Info("deployed state persisted",
		"deployment", r.DeploymentID,
		"run", r.ID,
		"facets", len(data.DeployedFacets),
		"protocol_version", data.ProtocolVersion,
		"cut_sequence", data.CutSequence,
	)
	return nil
}

// Result summarizes a run.
type Result struct {
	RunID          string                 `json:"run_id"`
	DeploymentID   string                 `json:"deployment_id"`
	Strategy       string                 `json:"strategy"`
	FirstDeploy    bool                   `json:"first_deploy"`
	DiamondAddress ir.Address             `json:"diamond_address"`
	Deployed       []FacetDeployment      `json:"deployed"`
	Cut            []ir.CutRecord         `json:"cut"`
	InitAddress    ir.Address             `json:"init_address"`
	InitCalldata   string                 `json:"init_calldata"`
	CutRef         string                 `json:"cut_ref,omitempty"`
	CutSubmitted   bool                   `json:"cut_submitted"`
	Persisted      bool                   `json:"persisted"`
	State          ir.DeployedDiamondData `json:"state"`
}

func (r *Run) result() *Result {
	payload := r.Plan.Payload()
	calldata, _ := payload["init_calldata"].(string)
	initAddr, _ := payload["init_address"].(ir.Address)
	deployed := r.Deployed
	if deployed == nil {
		deployed = []FacetDeployment{}
	}
	records := r.Plan.Records
	if records == nil {
		records = []ir.CutRecord{}
	}
	return &Result{
		RunID:          r.ID,
		DeploymentID:   r.DeploymentID,
		Strategy:       r.Strategy,
		FirstDeploy:    r.firstDeploy,
		DiamondAddress: r.Diamond.Address(),
		Deployed:       deployed,
		Cut:            records,
		InitAddress:    initAddr,
		InitCalldata:   calldata,
		CutRef:         r.CutRef,
		CutSubmitted:   r.CutSubmitted,
		Persisted:      r.Persisted,
		State:          r.Diamond.Data(),
	}
}
