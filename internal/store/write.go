package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/diamondctl/internal/ir"
)

// SaveDeployedDiamondData replaces the aggregate for deploymentID.
//
// Header and facet rows are rewritten in a single transaction: facets absent
// from data are deleted, so the stored state always equals data exactly.
func (s *Store) SaveDeployedDiamondData(ctx context.Context, deploymentID string, data ir.DeployedDiamondData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save deployment: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments
		(deployment_id, diamond_address, deployer_address, protocol_version, cut_sequence, schema_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id) DO UPDATE SET
			diamond_address = excluded.diamond_address,
			deployer_address = excluded.deployer_address,
			protocol_version = excluded.protocol_version,
			cut_sequence = excluded.cut_sequence,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at
	`,
		deploymentID,
		string(data.DiamondAddress),
		string(data.DeployerAddress),
		data.ProtocolVersion,
		data.CutSequence,
		ir.SchemaVersion,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save deployment: upsert header: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM deployed_facets WHERE deployment_id = ?`, deploymentID); err != nil {
		return fmt.Errorf("save deployment: clear facets: %w", err)
	}

	for _, name := range data.FacetNames() {
		rec := data.DeployedFacets[name]
		sels, err := marshalSelectors(rec.Selectors)
		if err != nil {
			return fmt.Errorf("save deployment: facet %s: %w", name, err)
		}
		include, err := marshalSelectors(rec.DeployInclude)
		if err != nil {
			return fmt.Errorf("save deployment: facet %s: %w", name, err)
		}
		exclude, err := marshalSelectors(rec.DeployExclude)
		if err != nil {
			return fmt.Errorf("save deployment: facet %s: %w", name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO deployed_facets
			(deployment_id, facet_name, address, tx_ref, version, priority, init_function, selectors, deploy_include, deploy_exclude)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			deploymentID,
			name,
			string(rec.Address),
			rec.TxRef,
			rec.Version,
			rec.Priority,
			rec.InitFunction,
			sels,
			include,
			exclude,
		)
		if err != nil {
			return fmt.Errorf("save deployment: insert facet %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save deployment: commit: %w", err)
	}
	return nil
}

// UpsertStep inserts or updates a ledger entry keyed by (deploymentID, step name).
// Uses ON CONFLICT DO UPDATE so resubmitting the same step is idempotent and
// the row keeps its original id (and therefore its position in Steps).
func (s *Store) UpsertStep(ctx context.Context, deploymentID string, step ir.StepRecord) error {
	result, err := marshalStepResult(step.Result)
	if err != nil {
		return fmt.Errorf("upsert step %s: %w", step.StepName, err)
	}
	ts := step.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps
		(deployment_id, step_name, external_ref, status, description, result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id, step_name) DO UPDATE SET
			external_ref = excluded.external_ref,
			status = excluded.status,
			description = excluded.description,
			result = excluded.result,
			updated_at = excluded.updated_at
	`,
		deploymentID,
		step.StepName,
		step.ExternalRef,
		string(step.Status),
		step.Description,
		result,
		ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert step %s: %w", step.StepName, err)
	}
	return nil
}

// DeleteSteps removes every ledger entry for deploymentID.
func (s *Store) DeleteSteps(ctx context.Context, deploymentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE deployment_id = ?`, deploymentID); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	return nil
}
