// Package reconcile turns the current selector registry plus a set of
// candidate facet deployments into the registry the next cut is computed from.
//
// Reconcile is a pure function: the input registry is cloned, never mutated.
// Entries are never deleted, only re-tagged with a new Action, so the reason
// a selector changed can be inspected after the fact.
//
// Candidates are processed strictly in ascending priority order. For each
// candidate four passes run in order (exclusion, inclusion, bulk, stale
// cleanup), and later passes and candidates may override earlier decisions.
// A final global pass removes selectors owned by facets that are no longer
// configured.
package reconcile

import (
	"slices"
	"sort"

	"github.com/roach88/diamondctl/internal/ir"
)

// Candidate is a freshly deployed facet that is not live yet.
type Candidate struct {
	Name   string
	Record ir.FacetDeploymentRecord
}

// SortCandidates orders candidates by ascending priority, ties by name.
// The returned slice is a copy.
func SortCandidates(candidates []Candidate) []Candidate {
	out := slices.Clone(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Record.Priority != out[j].Record.Priority {
			return out[i].Record.Priority < out[j].Record.Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reconcile applies candidates to a copy of current and returns it.
//
// active holds every facet name the configuration still knows about (including
// core facets that are never configured explicitly). Any entry owned by a
// facet outside active is marked Remove.
func Reconcile(current ir.Registry, candidates []Candidate, active map[string]bool) ir.Registry {
	reg := current.Clone()

	for _, c := range SortCandidates(candidates) {
		remaining := slices.Clone(c.Record.Selectors)

		remaining = applyExclusions(reg, c, remaining)
		remaining = applyInclusions(reg, c, remaining)
		applyBulk(reg, c, remaining)
		removeStale(reg, c)
	}

	for sel, entry := range reg {
		if !active[entry.FacetName] {
			reg[sel] = removed(entry)
		}
	}

	return reg
}

// applyExclusions drops excluded selectors from the candidate's list and
// retires any that the registry still attributes to this facet.
func applyExclusions(reg ir.Registry, c Candidate, remaining []ir.Selector) []ir.Selector {
	for _, sel := range c.Record.DeployExclude {
		remaining = without(remaining, sel)
		if entry, ok := reg[sel]; ok && entry.FacetName == c.Name {
			entry.Action = ir.ActionRemove
			reg[sel] = entry
		}
	}
	return remaining
}

// applyInclusions force-assigns included selectors to the candidate.
//
// A live entry owned by another facet with a numerically greater priority
// value is taken over with Replace; a live entry already owned by this facet
// is updated in place with Replace. Everything else is assigned with Add.
func applyInclusions(reg ir.Registry, c Candidate, remaining []ir.Selector) []ir.Selector {
	for _, sel := range c.Record.DeployInclude {
		action := ir.ActionAdd
		if entry, ok := reg[sel]; ok && entry.Action.Live() {
			if entry.FacetName == c.Name || entry.Priority > c.Record.Priority {
				action = ir.ActionReplace
			}
		}
		reg[sel] = owned(c, action)
		remaining = without(remaining, sel)
	}
	return remaining
}

// applyBulk assigns the candidate's remaining selectors. An existing owner
// keeps a selector unless the candidate has a numerically lower priority value.
// A selector already marked Remove is still routed on chain, so taking it
// over is a Replace.
func applyBulk(reg ir.Registry, c Candidate, remaining []ir.Selector) {
	for _, sel := range remaining {
		entry, ok := reg[sel]
		switch {
		case !ok:
			reg[sel] = owned(c, ir.ActionAdd)
		case entry.FacetName == c.Name, !entry.Action.Live():
			reg[sel] = owned(c, ir.ActionReplace)
		case c.Record.Priority < entry.Priority:
			reg[sel] = owned(c, ir.ActionReplace)
		}
	}
}

// removeStale retires selectors still attributed to the candidate facet at an
// address other than the candidate's.
func removeStale(reg ir.Registry, c Candidate) {
	for sel, entry := range reg {
		if entry.FacetName == c.Name && entry.Address != c.Record.Address {
			reg[sel] = removed(entry)
		}
	}
}

func owned(c Candidate, action ir.Action) ir.RegistryEntry {
	return ir.RegistryEntry{
		FacetName: c.Name,
		Priority:  c.Record.Priority,
		Address:   c.Record.Address,
		Action:    action,
	}
}

func removed(entry ir.RegistryEntry) ir.RegistryEntry {
	entry.Action = ir.ActionRemove
	entry.Address = ir.ZeroAddress
	return entry
}

func without(sels []ir.Selector, target ir.Selector) []ir.Selector {
	return slices.DeleteFunc(sels, func(s ir.Selector) bool { return s == target })
}
