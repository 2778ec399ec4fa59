package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/ir"
)

var testTarget = diamond.Target{Name: "core", Network: "local", ChainID: 31337}

func TestNewRepository_Validates(t *testing.T) {
	s := createTestStore(t)
	cfg := StaticConfig(ir.DeployConfig{})

	_, err := NewRepository(nil, testTarget, cfg)
	assert.Error(t, err)

	_, err = NewRepository(s, testTarget, nil)
	assert.Error(t, err)

	_, err = NewRepository(s, diamond.Target{Network: "local"}, cfg)
	assert.Error(t, err)

	repo, err := NewRepository(s, testTarget, cfg)
	require.NoError(t, err)
	assert.Equal(t, "core:local:31337", repo.DeploymentID())
}

func TestRepository_SaveThenLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	repo, err := NewRepository(s, testTarget, StaticConfig(ir.DeployConfig{}))
	require.NoError(t, err)

	empty, err := repo.LoadDeployedDiamondData(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.NewDeployedDiamondData(), empty)

	want := createTestDiamondData()
	require.NoError(t, repo.SaveDeployedDiamondData(ctx, want))

	got, err := repo.LoadDeployedDiamondData(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRepository_DryRunDoesNotPersist(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	repo, err := NewRepository(s, testTarget, StaticConfig(ir.DeployConfig{}), WithDryRun(true))
	require.NoError(t, err)

	require.NoError(t, repo.SaveDeployedDiamondData(ctx, createTestDiamondData()))

	_, found, err := s.LoadDeployedDiamondData(ctx, repo.DeploymentID())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepository_LoadDeployConfig(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cfg := ir.DeployConfig{ProtocolVersion: 4}

	repo, err := NewRepository(s, testTarget, StaticConfig(cfg))
	require.NoError(t, err)
	got, err := repo.LoadDeployConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	boom := errors.New("boom")
	failing, err := NewRepository(s, testTarget, func(context.Context) (ir.DeployConfig, error) {
		return ir.DeployConfig{}, boom
	})
	require.NoError(t, err)
	_, err = failing.LoadDeployConfig(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestRepository_SatisfiesDiamondRepository(t *testing.T) {
	var _ diamond.Repository = (*Repository)(nil)
}
