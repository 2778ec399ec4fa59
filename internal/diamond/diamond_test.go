package diamond

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/reconcile"
)

var (
	s1 = ir.MustParseSelector("0x00000001")
	s2 = ir.MustParseSelector("0x00000002")
	s3 = ir.MustParseSelector("0x00000003")

	proxy  = ir.Address("0x00000000000000000000000000000000000000ff")
	owner  = ir.Address("0x00000000000000000000000000000000000000ee")
	addrA0 = ir.Address("0x00000000000000000000000000000000000000a0")
	addrA1 = ir.Address("0x00000000000000000000000000000000000000a1")
	addrB  = ir.Address("0x00000000000000000000000000000000000000b0")
)

func deployedData() ir.DeployedDiamondData {
	return ir.DeployedDiamondData{
		DiamondAddress:  proxy,
		DeployerAddress: owner,
		ProtocolVersion: 1,
		DeployedFacets: map[string]ir.FacetDeploymentRecord{
			"A": {Address: addrA0, TxRef: "tx-a0", Version: 0, Priority: 10, Selectors: []ir.Selector{s1, s2}},
			"B": {Address: addrB, TxRef: "tx-b", Version: 3, Priority: 20, Selectors: []ir.Selector{s3}},
		},
	}
}

func TestTarget_DeploymentID(t *testing.T) {
	target := Target{Name: "core", Network: "sepolia", ChainID: 11155111}
	assert.Equal(t, "core:sepolia:11155111", target.DeploymentID())
	assert.NoError(t, target.Validate())

	assert.Error(t, Target{Network: "x"}.Validate())
	assert.Error(t, Target{Name: "x"}.Validate())
}

func TestNew_ReplaysDeployedEntries(t *testing.T) {
	d := New("core:local:31337", deployedData())

	reg := d.Registry()
	require.Len(t, reg, 3)
	assert.Equal(t, ir.RegistryEntry{FacetName: "A", Priority: 10, Address: addrA0, Action: ir.ActionDeployed}, reg[s1])
	assert.Equal(t, ir.RegistryEntry{FacetName: "B", Priority: 20, Address: addrB, Action: ir.ActionDeployed}, reg[s3])
	assert.False(t, d.FirstDeploy())
	assert.Equal(t, proxy, d.Address())
	assert.Equal(t, 1, d.ProtocolVersion())
}

func TestNew_EmptySkeletonIsFirstDeploy(t *testing.T) {
	d := New("core:local:31337", ir.DeployedDiamondData{})
	assert.True(t, d.FirstDeploy())
	assert.Empty(t, d.Registry())
	assert.NotNil(t, d.Data().DeployedFacets)
	assert.True(t, d.Initializer().None())
}

func TestRebuild_KeepsUnchangedDropsEmptyAndUsesCandidates(t *testing.T) {
	d := New("id", deployedData())
	d.AddCandidate("A", ir.FacetDeploymentRecord{Address: addrA1, TxRef: "tx-a1", Version: 1, Priority: 10, Selectors: []ir.Selector{s1, s2}})

	reg := d.Registry()
	reg[s1] = ir.RegistryEntry{FacetName: "A", Priority: 10, Address: addrA1, Action: ir.ActionReplace}
	reg[s2] = ir.RegistryEntry{FacetName: "A", Priority: 10, Address: ir.ZeroAddress, Action: ir.ActionRemove}
	reg[s3] = ir.RegistryEntry{FacetName: "B", Priority: 20, Address: ir.ZeroAddress, Action: ir.ActionRemove}
	d.SetRegistry(reg)

	out := d.Rebuild(2)

	require.Len(t, out.DeployedFacets, 1, "B has no live selectors left")
	a := out.DeployedFacets["A"]
	assert.Equal(t, addrA1, a.Address)
	assert.Equal(t, "tx-a1", a.TxRef)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, []ir.Selector{s1}, a.Selectors)
	assert.Equal(t, 2, out.ProtocolVersion)
	assert.Equal(t, proxy, out.DiamondAddress)
}

func TestRebuild_DeployedEntriesSurvive(t *testing.T) {
	d := New("id", deployedData())
	out := d.Rebuild(1)
	assert.Equal(t, deployedData(), out)
}

func TestCommit_ResetsRunState(t *testing.T) {
	d := New("id", ir.DeployedDiamondData{})
	d.AddCandidate("A", ir.FacetDeploymentRecord{Address: addrA1})
	d.RecordEntryPoint(proxy, owner)

	d.Commit(deployedData())

	assert.Empty(t, d.Candidates())
	assert.Len(t, d.Registry(), 3)
	assert.Equal(t, owner, d.Deployer())
}

func TestRecordDeployed_IsLiveImmediately(t *testing.T) {
	d := New("id", ir.DeployedDiamondData{})
	d.RecordDeployed("DiamondCutFacet", ir.FacetDeploymentRecord{Address: addrB, Selectors: []ir.Selector{s3}})

	assert.Equal(t, ir.ActionDeployed, d.Registry()[s3].Action)
	_, ok := d.DeployedFacet("DiamondCutFacet")
	assert.True(t, ok)
}

func TestCandidateNames_PriorityOrder(t *testing.T) {
	d := New("id", ir.DeployedDiamondData{})
	d.AddCandidate("late", ir.FacetDeploymentRecord{Priority: 30})
	d.AddCandidate("early", ir.FacetDeploymentRecord{Priority: 10})
	assert.Equal(t, []string{"early", "late"}, d.CandidateNames())
}

func TestRegistry_ReturnsCopy(t *testing.T) {
	d := New("id", deployedData())
	reg := d.Registry()
	delete(reg, s1)
	assert.Len(t, d.Registry(), 3)
}

func TestCommit_NormalizesAddresses(t *testing.T) {
	data := deployedData()
	data.DiamondAddress = "0x00000000000000000000000000000000000000FF"
	data.DeployerAddress = "0x00000000000000000000000000000000000000EE"
	rec := data.DeployedFacets["A"]
	rec.Address = "0x00000000000000000000000000000000000000A0"
	data.DeployedFacets["A"] = rec

	d := New("id", data)
	assert.Equal(t, proxy, d.Address())
	assert.Equal(t, owner, d.Deployer())
	got, _ := d.DeployedFacet("A")
	assert.Equal(t, addrA0, got.Address)
	assert.Equal(t, addrA0, d.Registry()[s1].Address)
	assert.Equal(t, "0x00000000000000000000000000000000000000A0", string(data.DeployedFacets["A"].Address), "input is not mutated")

	d.AddCandidate("B", ir.FacetDeploymentRecord{Address: "0x00000000000000000000000000000000000000B0"})
	cand, _ := d.Candidate("B")
	assert.Equal(t, addrB, cand.Address)

	d.RecordEntryPoint("0x00000000000000000000000000000000000000FF", "0x00000000000000000000000000000000000000EE")
	assert.Equal(t, proxy, d.Address())
	assert.Equal(t, owner, d.Deployer())
}

func TestReconcile_CheckSummedRecordMatchesLowercaseCandidate(t *testing.T) {
	data := deployedData()
	rec := data.DeployedFacets["A"]
	rec.Address = "0x00000000000000000000000000000000000000A0"
	rec.Selectors = []ir.Selector{s1, s2}
	data.DeployedFacets["A"] = rec
	d := New("id", data)

	// The same contract reported back in lowercase, offering only s1.
	d.AddCandidate("A", ir.FacetDeploymentRecord{Address: addrA0, Priority: 10, Selectors: []ir.Selector{s1}})
	cand, _ := d.Candidate("A")
	reg := reconcile.Reconcile(d.Registry(),
		[]reconcile.Candidate{{Name: "A", Record: cand}},
		map[string]bool{"A": true, "B": true})

	assert.Equal(t, ir.ActionReplace, reg[s1].Action)
	assert.Equal(t, ir.ActionDeployed, reg[s2].Action, "same address is not stale")
	assert.Equal(t, addrA0, reg[s2].Address)
	require.NoError(t, cut.ValidateRegistry(reg))
}
