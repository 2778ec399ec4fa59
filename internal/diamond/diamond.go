// Package diamond holds the in-memory aggregate for one deployment target and
// the repository contract it is loaded from and saved to.
//
// A Diamond is loaded once, replayed into a registry of Deployed entries,
// mutated only by a single orchestration run, and committed back exactly once
// per completed cut. It is not safe for concurrent use; one deployment id runs
// as one sequential flow.
package diamond

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/ir"
)

// Repository loads and saves the durable state of one deployment target.
type Repository interface {
	// LoadDeployedDiamondData returns the persisted aggregate, or an empty
	// skeleton if nothing was persisted yet.
	LoadDeployedDiamondData(ctx context.Context) (ir.DeployedDiamondData, error)

	// SaveDeployedDiamondData durably writes the aggregate. Implementations
	// may turn this into a no-op for dry runs.
	SaveDeployedDiamondData(ctx context.Context, data ir.DeployedDiamondData) error

	// LoadDeployConfig returns the desired-state configuration.
	LoadDeployConfig(ctx context.Context) (ir.DeployConfig, error)

	// DeploymentID namespaces all persisted state, including the step ledger.
	DeploymentID() string
}

// Target identifies one deployment: a diamond on one network and chain.
type Target struct {
	Name    string
	Network string
	ChainID uint64
}

// DeploymentID combines name, network and chain id into a stable id.
func (t Target) DeploymentID() string {
	return fmt.Sprintf("%s:%s:%d", t.Name, t.Network, t.ChainID)
}

// Validate checks that every component of the id is present.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("diamond target: name is required")
	}
	if t.Network == "" {
		return fmt.Errorf("diamond target: network is required")
	}
	return nil
}

// Diamond is the aggregate for one deployment run.
type Diamond struct {
	id          string
	data        ir.DeployedDiamondData
	candidates  map[string]ir.FacetDeploymentRecord
	registry    ir.Registry
	initializer cut.Initializer
}

// Load reads the persisted aggregate through repo and replays it.
func Load(ctx context.Context, repo Repository) (*Diamond, error) {
	data, err := repo.LoadDeployedDiamondData(ctx)
	if err != nil {
		return nil, fmt.Errorf("load diamond %s: %w", repo.DeploymentID(), err)
	}
	return New(repo.DeploymentID(), data), nil
}

// New builds a Diamond from already loaded data.
func New(id string, data ir.DeployedDiamondData) *Diamond {
	d := &Diamond{id: id}
	d.Commit(data)
	return d
}

// Commit replaces the aggregate with data, clears candidates and replays the
// deployed facets into the registry as Deployed entries. Addresses are
// normalized.
func (d *Diamond) Commit(data ir.DeployedDiamondData) {
	facets := make(map[string]ir.FacetDeploymentRecord, len(data.DeployedFacets))
	for name, rec := range data.DeployedFacets {
		rec.Address = rec.Address.Normalize()
		facets[name] = rec
	}
	data.DeployedFacets = facets
	data.DiamondAddress = data.DiamondAddress.Normalize()
	data.DeployerAddress = data.DeployerAddress.Normalize()
	d.data = data
	d.candidates = map[string]ir.FacetDeploymentRecord{}
	d.initializer = cut.Initializer{Address: ir.ZeroAddress}
	d.registry = ir.Registry{}
	for _, name := range data.FacetNames() {
		d.replay(name, data.DeployedFacets[name])
	}
}

func (d *Diamond) replay(name string, rec ir.FacetDeploymentRecord) {
	for _, sel := range rec.Selectors {
		d.registry[sel] = ir.RegistryEntry{
			FacetName: name,
			Priority:  rec.Priority,
			Address:   rec.Address,
			Action:    ir.ActionDeployed,
		}
	}
}

// ID returns the deployment id.
func (d *Diamond) ID() string { return d.id }

// Address returns the proxy address, empty before the first deploy.
func (d *Diamond) Address() ir.Address { return d.data.DiamondAddress }

// Deployer returns the account that deployed the proxy.
func (d *Diamond) Deployer() ir.Address { return d.data.DeployerAddress }

// FirstDeploy reports whether no proxy exists yet. This is the only mode flag.
func (d *Diamond) FirstDeploy() bool { return d.data.DiamondAddress.IsZero() }

// ProtocolVersion returns the protocol version recorded on the last commit.
func (d *Diamond) ProtocolVersion() int { return d.data.ProtocolVersion }

// CutSequence returns how many cuts were committed before this run.
func (d *Diamond) CutSequence() int { return d.data.CutSequence }

// Data returns a copy of the committed aggregate.
func (d *Diamond) Data() ir.DeployedDiamondData {
	out := d.data
	out.DeployedFacets = maps.Clone(d.data.DeployedFacets)
	return out
}

// DeployedFacet returns the committed record for name.
func (d *Diamond) DeployedFacet(name string) (ir.FacetDeploymentRecord, bool) {
	rec, ok := d.data.DeployedFacets[name]
	return rec, ok
}

// DeployedFacets returns a copy of the committed facet records.
func (d *Diamond) DeployedFacets() map[string]ir.FacetDeploymentRecord {
	return maps.Clone(d.data.DeployedFacets)
}

// RecordEntryPoint stores the proxy address and its deployer.
func (d *Diamond) RecordEntryPoint(diamond, deployer ir.Address) {
	d.data.DiamondAddress = diamond.Normalize()
	d.data.DeployerAddress = deployer.Normalize()
}

// RecordDeployed registers a facet that is live as soon as it is deployed,
// such as the cut facet passed to the proxy constructor.
func (d *Diamond) RecordDeployed(name string, rec ir.FacetDeploymentRecord) {
	rec.Address = rec.Address.Normalize()
	d.data.DeployedFacets[name] = rec
	d.replay(name, rec)
}

// AddCandidate records a freshly deployed facet that is not live yet.
func (d *Diamond) AddCandidate(name string, rec ir.FacetDeploymentRecord) {
	rec.Address = rec.Address.Normalize()
	d.candidates[name] = rec
}

// Candidate returns the pending record for name.
func (d *Diamond) Candidate(name string) (ir.FacetDeploymentRecord, bool) {
	rec, ok := d.candidates[name]
	return rec, ok
}

// Candidates returns a copy of all pending records.
func (d *Diamond) Candidates() map[string]ir.FacetDeploymentRecord {
	return maps.Clone(d.candidates)
}

// CandidateNames returns pending facet names by priority, then name.
func (d *Diamond) CandidateNames() []string {
	view := ir.DeployedDiamondData{DeployedFacets: d.candidates}
	return view.FacetNames()
}

// Registry returns a copy of the selector registry.
func (d *Diamond) Registry() ir.Registry { return d.registry.Clone() }

// SetRegistry replaces the selector registry.
func (d *Diamond) SetRegistry(reg ir.Registry) { d.registry = reg.Clone() }

// Initializer returns the initializer bound to the current cut.
func (d *Diamond) Initializer() cut.Initializer { return d.initializer }

// BindInitializer binds the initializer resolved for the current cut.
func (d *Diamond) BindInitializer(call cut.Initializer) {
	call.Address = call.Address.Normalize()
	d.initializer = call
}

// Rebuild derives the next DeployedDiamondData from the registry's live
// entries. Each facet keeps the record it is live under (candidate or
// previously deployed) with its selector list replaced; facets left with no
// live selectors are dropped.
func (d *Diamond) Rebuild(protocolVersion int) ir.DeployedDiamondData {
	out := ir.DeployedDiamondData{
		DiamondAddress:  d.data.DiamondAddress,
		DeployerAddress: d.data.DeployerAddress,
		DeployedFacets:  map[string]ir.FacetDeploymentRecord{},
		ProtocolVersion: protocolVersion,
		CutSequence:     d.data.CutSequence,
	}

	for _, sel := range d.registry.SortedSelectors() {
		entry := d.registry[sel]
		if !entry.Action.Live() {
			continue
		}
		rec, ok := out.DeployedFacets[entry.FacetName]
		if !ok {
			rec = d.sourceRecord(entry)
			rec.Selectors = nil
		}
		rec.Selectors = append(rec.Selectors, sel)
		out.DeployedFacets[entry.FacetName] = rec
	}
	return out
}

// sourceRecord finds the record a live entry belongs to.
func (d *Diamond) sourceRecord(entry ir.RegistryEntry) ir.FacetDeploymentRecord {
	if rec, ok := d.candidates[entry.FacetName]; ok && rec.Address == entry.Address {
		return rec
	}
	if rec, ok := d.data.DeployedFacets[entry.FacetName]; ok && rec.Address == entry.Address {
		return rec
	}
	return ir.FacetDeploymentRecord{Address: entry.Address, Priority: entry.Priority}
}
