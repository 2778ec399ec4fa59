package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
)

// writeResult prints a run summary in text form.
func writeResult(w io.Writer, res *engine.Result) {
	mode := "upgrade"
	if res.FirstDeploy {
		mode = "first deploy"
	}
	fmt.Fprintf(w, "Deployment: %s (%s, strategy %s)\n", res.DeploymentID, mode, res.Strategy)
	fmt.Fprintf(w, "Run:        %s\n", res.RunID)
	fmt.Fprintf(w, "Diamond:    %s\n", orNone(res.DiamondAddress))

	fmt.Fprintln(w)
	if len(res.Deployed) == 0 {
		fmt.Fprintln(w, "Deployed: nothing")
	} else {
		fmt.Fprintf(w, "Deployed (%d):\n", len(res.Deployed))
		for _, dep := range res.Deployed {
			fmt.Fprintf(w, "  %-24s v%-3d %s\n", dep.Name, dep.Version, dep.Address)
		}
	}

	fmt.Fprintln(w)
	if len(res.Cut) == 0 {
		fmt.Fprintln(w, "Cut: no selector changes")
	} else {
		fmt.Fprintf(w, "Cut (%d records):\n", len(res.Cut))
		for _, rec := range res.Cut {
			fmt.Fprintf(w, "  %-8s %-24s %s [%s]\n", rec.Action, rec.FacetName, rec.FacetAddress, joinSelectors(rec.Selectors))
		}
	}
	if !res.InitAddress.IsZero() {
		fmt.Fprintf(w, "Init:       %s calldata %s\n", res.InitAddress, res.InitCalldata)
	}
	if res.CutRef != "" {
		fmt.Fprintf(w, "Cut ref:    %s\n", res.CutRef)
	}

	fmt.Fprintln(w)
	if res.Persisted {
		fmt.Fprintf(w, "✓ State saved: %d facets, protocol version %d\n", len(res.State.DeployedFacets), res.State.ProtocolVersion)
	} else {
		fmt.Fprintln(w, "State not saved")
	}
}

// writeState prints persisted deployment state in text form.
func writeState(w io.Writer, deploymentID string, data ir.DeployedDiamondData, verbose bool) {
	fmt.Fprintf(w, "Deployment: %s\n", deploymentID)
	if data.DiamondAddress.IsZero() {
		fmt.Fprintln(w, "Not deployed")
		return
	}
	fmt.Fprintf(w, "Diamond:    %s\n", data.DiamondAddress)
	fmt.Fprintf(w, "Owner:      %s\n", orNone(data.DeployerAddress))
	fmt.Fprintf(w, "Protocol:   v%d\n", data.ProtocolVersion)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Facets (%d):\n", len(data.DeployedFacets))
	for _, name := range data.FacetNames() {
		rec := data.DeployedFacets[name]
		fmt.Fprintf(w, "  %-24s v%-3d priority %-4d %s %d selectors\n", name, rec.Version, rec.Priority, rec.Address, len(rec.Selectors))
		if verbose {
			fmt.Fprintf(w, "    [%s]\n", joinSelectors(rec.Selectors))
		}
	}
}

// writeSteps prints ledger entries in text form.
func writeSteps(w io.Writer, deploymentID string, steps []ir.StepRecord) {
	if len(steps) == 0 {
		fmt.Fprintf(w, "No steps recorded for %s\n", deploymentID)
		return
	}
	fmt.Fprintf(w, "Steps for %s (%d):\n", deploymentID, len(steps))
	for _, s := range steps {
		fmt.Fprintf(w, "  %-9s %-32s ref=%s at %s\n", s.Status, s.StepName, s.ExternalRef, s.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		if !s.Result.Address.IsZero() {
			fmt.Fprintf(w, "            address %s\n", s.Result.Address)
		}
	}
}

func joinSelectors(sels []ir.Selector) string {
	parts := make([]string, len(sels))
	for i, s := range sels {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

func orNone(addr ir.Address) string {
	if addr.IsZero() {
		return "(none)"
	}
	return string(addr)
}
