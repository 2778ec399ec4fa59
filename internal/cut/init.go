package cut

import (
	"strings"

	"github.com/roach88/diamondctl/internal/ir"
)

// InitInput carries what initializer resolution needs to know about a run.
type InitInput struct {
	Config      ir.DeployConfig
	FirstDeploy bool

	// DeployedProtocolVersion is the protocol version already on chain.
	DeployedProtocolVersion int

	Candidates map[string]ir.FacetDeploymentRecord
	Deployed   map[string]ir.FacetDeploymentRecord
}

// Initializer is the resolved call executed atomically with the cut.
type Initializer struct {
	FacetName string
	Function  string
	Address   ir.Address
	Calldata  []byte
}

// None reports whether there is nothing to call.
func (i Initializer) None() bool {
	return i.Address.IsZero()
}

// ResolveInitializer picks the protocol initializer for this run.
//
// The configured protocolInitFacet's spec for protocolVersion supplies
// deployInit on a first deploy and upgradeInit otherwise. Upgrades only
// initialize when the configured protocol version is ahead of the deployed
// one. The target is the init facet's candidate address, falling back to its
// deployed address. Without an init function the zero address is returned.
func ResolveInitializer(in InitInput) (Initializer, error) {
	none := Initializer{Address: ir.ZeroAddress}

	facet := in.Config.ProtocolInitFacet
	if facet == "" {
		return none, nil
	}
	if !in.FirstDeploy && in.Config.ProtocolVersion <= in.DeployedProtocolVersion {
		return none, nil
	}
	spec, ok := in.Config.Facets[facet].Versions[in.Config.ProtocolVersion]
	if !ok {
		return none, nil
	}
	function := spec.InitFunction(in.FirstDeploy)
	if function == "" {
		return none, nil
	}

	var target ir.Address
	if rec, ok := in.Candidates[facet]; ok {
		target = rec.Address
	} else if rec, ok := in.Deployed[facet]; ok {
		target = rec.Address
	}
	if target.IsZero() {
		return none, NewMissingInitTargetError(facet, function)
	}

	return Initializer{
		FacetName: facet,
		Function:  function,
		Address:   target,
		Calldata:  EncodeCall(function),
	}, nil
}

// EncodeCall encodes a zero-argument call: just the 4-byte selector.
// function may be a bare name ("initialize") or a full signature.
func EncodeCall(function string) []byte {
	sig := function
	if !strings.Contains(sig, "(") {
		sig += "()"
	}
	sel := ir.SelectorFromSignature(sig)
	return sel[:]
}
