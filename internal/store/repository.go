package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/diamondctl/internal/diamond"
	"github.com/roach88/diamondctl/internal/ir"
)

// ConfigLoader returns the desired-state configuration.
type ConfigLoader func(ctx context.Context) (ir.DeployConfig, error)

// Repository implements diamond.Repository for one target on top of a Store.
type Repository struct {
	store      *Store
	target     diamond.Target
	loadConfig ConfigLoader
	dryRun     bool
}

// RepositoryOption customizes a Repository.
type RepositoryOption func(*Repository)

// WithDryRun disables SaveDeployedDiamondData. Loads still read real state.
func WithDryRun(dryRun bool) RepositoryOption {
	return func(r *Repository) {
		r.dryRun = dryRun
	}
}

// NewRepository binds a store, a target and a config loader.
func NewRepository(st *Store, target diamond.Target, loadConfig ConfigLoader, opts ...RepositoryOption) (*Repository, error) {
	if st == nil {
		return nil, fmt.Errorf("repository: store is required")
	}
	if loadConfig == nil {
		return nil, fmt.Errorf("repository: config loader is required")
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	r := &Repository{store: st, target: target, loadConfig: loadConfig}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DeploymentID implements diamond.Repository.
func (r *Repository) DeploymentID() string {
	return r.target.DeploymentID()
}

// LoadDeployedDiamondData implements diamond.Repository.
func (r *Repository) LoadDeployedDiamondData(ctx context.Context) (ir.DeployedDiamondData, error) {
	data, found, err := r.store.LoadDeployedDiamondData(ctx, r.DeploymentID())
	if err != nil {
		return ir.DeployedDiamondData{}, err
	}
	if !found {
		slog.Debug("no deployed state, starting from empty skeleton", "deployment", r.DeploymentID())
	}
	return data, nil
}

// SaveDeployedDiamondData implements diamond.Repository.
func (r *Repository) SaveDeployedDiamondData(ctx context.Context, data ir.DeployedDiamondData) error {
	if r.dryRun {
		slog.Info("dry run, not saving deployed state", "deployment", r.DeploymentID(), "facets", len(data.DeployedFacets))
		return nil
	}
	return r.store.SaveDeployedDiamondData(ctx, r.DeploymentID(), data)
}

// LoadDeployConfig implements diamond.Repository.
func (r *Repository) LoadDeployConfig(ctx context.Context) (ir.DeployConfig, error) {
	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return ir.DeployConfig{}, fmt.Errorf("load deploy config: %w", err)
	}
	return cfg, nil
}

// StaticConfig returns a ConfigLoader that always yields cfg.
func StaticConfig(cfg ir.DeployConfig) ConfigLoader {
	return func(context.Context) (ir.DeployConfig, error) {
		return cfg, nil
	}
}
