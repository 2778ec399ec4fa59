package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/diamondctl/internal/ir"
)

// createTestStore opens a fresh database under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	selA = ir.MustParseSelector("0x11111111")
	selB = ir.MustParseSelector("0x22222222")
	selC = ir.MustParseSelector("0x33333333")
)

// createTestDiamondData returns a two-facet aggregate with every optional field set.
func createTestDiamondData() ir.DeployedDiamondData {
	return ir.DeployedDiamondData{
		DiamondAddress:  "0x00000000000000000000000000000000000000ff",
		DeployerAddress: "0x00000000000000000000000000000000000000ee",
		ProtocolVersion: 2,
		CutSequence:     3,
		DeployedFacets: map[string]ir.FacetDeploymentRecord{
			"DiamondCutFacet": {
				Address:   "0x0000000000000000000000000000000000000001",
				TxRef:     "0xaaa",
				Version:   0,
				Priority:  0,
				Selectors: []ir.Selector{selA},
			},
			"TokenFacet": {
				Address:       "0x0000000000000000000000000000000000000002",
				TxRef:         "0xbbb",
				Version:       3,
				Priority:      20,
				Selectors:     []ir.Selector{selB, selC},
				DeployExclude: []ir.Selector{selA},
				InitFunction:  "initToken",
			},
		},
	}
}
