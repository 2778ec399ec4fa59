package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
	"github.com/roach88/diamondctl/internal/testutil"
)

func plan(t *testing.T, opts *RootOptions, config string) (string, error) {
	t.Helper()
	cmd := newPlanCommand(&PlanOptions{RootOptions: opts, RunIDs: testutil.FixedRunID("plan-1")})
	return execute(t, cmd, "--config", config, "--artifacts", artifactsDir)
}

func TestPlan_FirstDeployUsesPlaceholders(t *testing.T) {
	opts := testRootOptions(t, "json")
	out, err := plan(t, opts, deployConfig)
	require.NoError(t, err, out)

	var res engine.Result
	decode(t, out, &res)
	assert.Equal(t, "preview", res.Strategy)
	assert.True(t, res.FirstDeploy)
	assert.False(t, res.CutSubmitted)
	assert.Equal(t, ir.PlaceholderAddress("Diamond", 0), res.DiamondAddress)
	assert.Equal(t, ir.PlaceholderAddress("InitFacet", 1), res.InitAddress)
	require.Len(t, res.Cut, 3)

	// Planning writes nothing.
	assert.True(t, show(t, opts).DiamondAddress.IsZero())
}

func TestPlan_IsDeterministic(t *testing.T) {
	opts := testRootOptions(t, "json")
	first, err := plan(t, opts, deployConfig)
	require.NoError(t, err)
	second, err := plan(t, opts, deployConfig)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlan_UpgradeAgainstDeployedState(t *testing.T) {
	opts := testRootOptions(t, "text")
	_, err := deploy(t, opts, "--config", deployConfig)
	require.NoError(t, err)
	before := show(t, opts)

	out, err := plan(t, opts, upgradeConfig)
	require.NoError(t, err)

	assert.Contains(t, out, "(upgrade, strategy preview)")
	assert.Contains(t, out, "Run:        plan-1")
	assert.Contains(t, out, "Remove")
	assert.Contains(t, out, selBalanceOf.String())
	assert.Contains(t, out, string(ir.PlaceholderAddress("TokenFacet", 2)))
	assert.Contains(t, out, "State not saved")

	assert.Equal(t, before, show(t, opts), "plan leaves recorded state alone")
}

func TestPlan_ConfigErrorsSurface(t *testing.T) {
	opts := testRootOptions(t, "text")
	out, err := plan(t, opts, "testdata/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E200]")
}
