package ir

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// Action is the dispatch-table change attached to a registry entry.
type Action string

const (
	// ActionAdd registers a selector that is not yet on chain.
	ActionAdd Action = "Add"

	// ActionReplace points an on-chain selector at a new facet address.
	ActionReplace Action = "Replace"

	// ActionRemove drops a selector from the dispatch table.
	ActionRemove Action = "Remove"

	// ActionDeployed marks a selector that is live and unchanged.
	ActionDeployed Action = "Deployed"
)

// Live reports whether the action leaves the selector routed after the cut.
func (a Action) Live() bool {
	switch a {
	case ActionAdd, ActionReplace, ActionDeployed:
		return true
	default:
		return false
	}
}

// Rank orders actions inside a cut: Add, Replace, Remove, Deployed.
func (a Action) Rank() int {
	switch a {
	case ActionAdd:
		return 0
	case ActionReplace:
		return 1
	case ActionRemove:
		return 2
	default:
		return 3
	}
}

// RegistryEntry records which facet currently owns a selector and why.
type RegistryEntry struct {
	FacetName string  `json:"facet_name"`
	Priority  int     `json:"priority"`
	Address   Address `json:"address"`
	Action    Action  `json:"action"`
}

// Registry maps each selector to exactly one entry.
// Use SortedSelectors() for deterministic iteration.
type Registry map[Selector]RegistryEntry

// Clone returns a shallow copy; entries are values so the copy is independent.
func (r Registry) Clone() Registry {
	if r == nil {
		return Registry{}
	}
	return maps.Clone(r)
}

// SortedSelectors returns the registry keys in byte order.
func (r Registry) SortedSelectors() []Selector {
	return SortSelectors(slices.Collect(maps.Keys(r)))
}

// SelectorsOf returns the selectors attributed to facet, in byte order.
func (r Registry) SelectorsOf(facet string) []Selector {
	var out []Selector
	for sel, entry := range r {
		if entry.FacetName == facet {
			out = append(out, sel)
		}
	}
	return SortSelectors(out)
}

// FacetDeploymentRecord describes one deployed (live) or candidate (pending) facet.
type FacetDeploymentRecord struct {
	Address       Address    `json:"address"`
	TxRef         string     `json:"tx_ref"`
	Version       int        `json:"version"`
	Selectors     []Selector `json:"selectors"`
	DeployInclude []Selector `json:"deploy_include,omitempty"`
	DeployExclude []Selector `json:"deploy_exclude,omitempty"`
	InitFunction  string     `json:"init_function,omitempty"`
	Priority      int        `json:"priority"`
}

// DeployedDiamondData is the durable aggregate for one deployment target.
type DeployedDiamondData struct {
	DiamondAddress  Address                          `json:"diamond_address"`
	DeployerAddress Address                          `json:"deployer_address"`
	DeployedFacets  map[string]FacetDeploymentRecord `json:"deployed_facets"`
	ProtocolVersion int                              `json:"protocol_version"`

	// CutSequence counts the cuts committed for this target. It names the
	// remote ledger step of the next cut, so a cut repeating an earlier
	// payload is still a new step.
	CutSequence int `json:"cut_sequence"`
}

// NewDeployedDiamondData returns the empty skeleton used before a first deploy.
func NewDeployedDiamondData() DeployedDiamondData {
	return DeployedDiamondData{DeployedFacets: map[string]FacetDeploymentRecord{}}
}

// FacetNames returns deployed facet names sorted by priority, then name.
func (d DeployedDiamondData) FacetNames() []string {
	names := slices.Collect(maps.Keys(d.DeployedFacets))
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := d.DeployedFacets[names[i]].Priority, d.DeployedFacets[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// DeployConfig is the desired-state input.
type DeployConfig struct {
	ProtocolVersion   int                    `yaml:"protocolVersion" json:"protocol_version"`
	ProtocolInitFacet string                 `yaml:"protocolInitFacet,omitempty" json:"protocol_init_facet,omitempty"`
	Facets            map[string]FacetConfig `yaml:"facets" json:"facets"`
}

// FacetConfig is the desired state of one facet.
type FacetConfig struct {
	Priority int                 `yaml:"priority" json:"priority"`
	Versions map[int]VersionSpec `yaml:"versions" json:"versions"`
}

// VersionSpec carries the per-version deployment options of a facet.
type VersionSpec struct {
	DeployInit    string     `yaml:"deployInit,omitempty" json:"deploy_init,omitempty"`
	UpgradeInit   string     `yaml:"upgradeInit,omitempty" json:"upgrade_init,omitempty"`
	Callbacks     []string   `yaml:"callbacks,omitempty" json:"callbacks,omitempty"`
	DeployInclude []Selector `yaml:"deployInclude,omitempty" json:"deploy_include,omitempty"`
	DeployExclude []Selector `yaml:"deployExclude,omitempty" json:"deploy_exclude,omitempty"`
}

// InitFunction returns the init function for the given mode.
func (v VersionSpec) InitFunction(firstDeploy bool) string {
	if firstDeploy {
		return v.DeployInit
	}
	return v.UpgradeInit
}

// TargetVersion returns the highest configured version, or false if none.
func (f FacetConfig) TargetVersion() (int, VersionSpec, bool) {
	if len(f.Versions) == 0 {
		return 0, VersionSpec{}, false
	}
	target := slices.Max(slices.Collect(maps.Keys(f.Versions)))
	return target, f.Versions[target], true
}

// FacetNames returns configured facet names sorted by priority, then name.
// This is the facet deployment order.
func (c DeployConfig) FacetNames() []string {
	names := slices.Collect(maps.Keys(c.Facets))
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := c.Facets[names[i]].Priority, c.Facets[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// StepStatus is the lifecycle state of a submitted unit of remote work.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepExecuted StepStatus = "executed"
	StepFailed   StepStatus = "failed"
)

// StepResult is the confirmed output of a step.
type StepResult struct {
	Address Address `json:"address,omitempty"`
	TxRef   string  `json:"tx_ref,omitempty"`
}

// StepRecord is one ledger entry, keyed by (deployment id, step name).
type StepRecord struct {
	StepName    string     `json:"step_name"`
	ExternalRef string     `json:"external_ref"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description"`
	Timestamp   time.Time  `json:"timestamp"`
	Result      StepResult `json:"result"`
}

// CutRecord is one FacetCut of an ERC-2535 diamondCut call.
type CutRecord struct {
	FacetAddress Address    `json:"facet_address"`
	Action       Action     `json:"action"`
	Selectors    []Selector `json:"selectors"`
	FacetName    string     `json:"facet_name"`
}
