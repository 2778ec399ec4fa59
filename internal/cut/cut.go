// Package cut derives the atomic dispatch-table change for a diamond from a
// reconciled registry, validates it, and resolves the protocol initializer
// that is executed together with it.
package cut

import (
	"encoding/hex"
	"sort"

	"github.com/roach88/diamondctl/internal/ir"
)

// Plan is one atomic state-changing operation: the cut records plus the
// initializer call executed with them.
type Plan struct {
	Records      []ir.CutRecord
	InitAddress  ir.Address
	InitCalldata []byte
}

// Empty reports whether the plan changes nothing and calls nothing.
func (p Plan) Empty() bool {
	return len(p.Records) == 0 && p.InitAddress.IsZero()
}

// Payload returns the plan as a canonical-JSON-ready map. Proposals submitted
// to an external service mirror this payload exactly.
func (p Plan) Payload() map[string]any {
	records := make([]any, len(p.Records))
	for i, r := range p.Records {
		sels := make([]any, len(r.Selectors))
		for j, s := range r.Selectors {
			sels[j] = s
		}
		records[i] = map[string]any{
			"facet_address": r.FacetAddress,
			"action":        r.Action,
			"selectors":     sels,
			"facet_name":    r.FacetName,
		}
	}
	initAddr := p.InitAddress
	if initAddr == "" {
		initAddr = ir.ZeroAddress
	}
	return map[string]any{
		"cut":           records,
		"init_address":  initAddr,
		"init_calldata": "0x" + hex.EncodeToString(p.InitCalldata),
	}
}

type batchKey struct {
	address ir.Address
	action  ir.Action
	facet   string
}

// Compute derives the cut records from every registry entry whose action is
// not Deployed. Records sharing (address, action, facet) are batched into one
// record; selectors inside a record are sorted. Remove records always target
// the zero address.
//
// Records are ordered by facet name, then action (Add, Replace, Remove), then
// address, so the same registry always yields the same plan.
func Compute(reg ir.Registry) Plan {
	batches := map[batchKey][]ir.Selector{}
	for sel, entry := range reg {
		if entry.Action == ir.ActionDeployed {
			continue
		}
		addr := entry.Address
		if entry.Action == ir.ActionRemove {
			addr = ir.ZeroAddress
		}
		key := batchKey{address: addr, action: entry.Action, facet: entry.FacetName}
		batches[key] = append(batches[key], sel)
	}

	keys := make([]batchKey, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.facet != b.facet {
			return a.facet < b.facet
		}
		if a.action.Rank() != b.action.Rank() {
			return a.action.Rank() < b.action.Rank()
		}
		return a.address < b.address
	})

	plan := Plan{InitAddress: ir.ZeroAddress}
	for _, k := range keys {
		plan.Records = append(plan.Records, ir.CutRecord{
			FacetAddress: k.address,
			Action:       k.action,
			Selectors:    ir.SortSelectors(batches[k]),
			FacetName:    k.facet,
		})
	}
	return plan
}

// ValidateNoOrphanedSelectors fails when two live records share a facet name
// but target different addresses.
func ValidateNoOrphanedSelectors(records []ir.CutRecord) error {
	seen := map[string]ir.Address{}
	for _, r := range records {
		if !r.Action.Live() {
			continue
		}
		if prev, ok := seen[r.FacetName]; ok && prev != r.FacetAddress {
			return NewOrphanError(r.FacetName, string(prev), string(r.FacetAddress))
		}
		seen[r.FacetName] = r.FacetAddress
	}
	return nil
}

// ValidateRegistry applies the orphan rule to every live registry entry,
// including Deployed ones.
func ValidateRegistry(reg ir.Registry) error {
	seen := map[string]ir.Address{}
	for _, sel := range reg.SortedSelectors() {
		entry := reg[sel]
		if !entry.Action.Live() {
			continue
		}
		if prev, ok := seen[entry.FacetName]; ok && prev != entry.Address {
			return NewOrphanError(entry.FacetName, string(prev), string(entry.Address))
		}
		seen[entry.FacetName] = entry.Address
	}
	return nil
}
