package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/diamondctl/internal/ir"
)

// LoadDeployedDiamondData returns the aggregate for deploymentID.
// found is false (and data the empty skeleton) when nothing was saved yet.
func (s *Store) LoadDeployedDiamondData(ctx context.Context, deploymentID string) (data ir.DeployedDiamondData, found bool, err error) {
	data = ir.NewDeployedDiamondData()

	var diamond, deployer string
	err = s.db.QueryRowContext(ctx, `
		SELECT diamond_address, deployer_address, protocol_version, cut_sequence
		FROM deployments
		WHERE deployment_id = ?
	`, deploymentID).Scan(&diamond, &deployer, &data.ProtocolVersion, &data.CutSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return data, false, nil
	}
	if err != nil {
		return data, false, fmt.Errorf("load deployment: %w", err)
	}
	data.DiamondAddress = ir.NormalizeAddress(diamond)
	data.DeployerAddress = ir.NormalizeAddress(deployer)

	rows, err := s.db.QueryContext(ctx, `
		SELECT facet_name, address, tx_ref, version, priority, init_function, selectors, deploy_include, deploy_exclude
		FROM deployed_facets
		WHERE deployment_id = ?
		ORDER BY priority ASC, facet_name ASC
	`, deploymentID)
	if err != nil {
		return data, false, fmt.Errorf("load deployment facets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		name, rec, err := scanFacet(rows)
		if err != nil {
			return data, false, err
		}
		data.DeployedFacets[name] = rec
	}
	if err := rows.Err(); err != nil {
		return data, false, fmt.Errorf("iterate deployment facets: %w", err)
	}

	return data, true, nil
}

func scanFacet(rows *sql.Rows) (string, ir.FacetDeploymentRecord, error) {
	var (
		name, addr, sels, include, exclude string
		rec                                ir.FacetDeploymentRecord
	)
	if err := rows.Scan(&name, &addr, &rec.TxRef, &rec.Version, &rec.Priority, &rec.InitFunction, &sels, &include, &exclude); err != nil {
		return "", rec, fmt.Errorf("scan facet: %w", err)
	}
	rec.Address = ir.NormalizeAddress(addr)

	var err error
	if rec.Selectors, err = unmarshalSelectors(sels); err != nil {
		return "", rec, fmt.Errorf("facet %s: %w", name, err)
	}
	if rec.DeployInclude, err = unmarshalSelectors(include); err != nil {
		return "", rec, fmt.Errorf("facet %s: %w", name, err)
	}
	if rec.DeployExclude, err = unmarshalSelectors(exclude); err != nil {
		return "", rec, fmt.Errorf("facet %s: %w", name, err)
	}
	return name, rec, nil
}

// Step returns the ledger entry for (deploymentID, stepName).
func (s *Store) Step(ctx context.Context, deploymentID, stepName string) (ir.StepRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT step_name, external_ref, status, description, result, updated_at
		FROM steps
		WHERE deployment_id = ? AND step_name = ?
	`, deploymentID, stepName)

	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.StepRecord{}, false, nil
	}
	if err != nil {
		return ir.StepRecord{}, false, fmt.Errorf("read step %s: %w", stepName, err)
	}
	return step, true, nil
}

// Steps returns every ledger entry for deploymentID in submission order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) Steps(ctx context.Context, deploymentID string) ([]ir.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name, external_ref, status, description, result, updated_at
		FROM steps
		WHERE deployment_id = ?
		ORDER BY id ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []ir.StepRecord{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (ir.StepRecord, error) {
	var (
		step    ir.StepRecord
		status  string
		result  string
		updated int64
	)
	if err := row.Scan(&step.StepName, &step.ExternalRef, &status, &step.Description, &result, &updated); err != nil {
		return step, err
	}
	step.Status = ir.StepStatus(status)
	step.Timestamp = time.Unix(0, updated).UTC()

	res, err := unmarshalStepResult(result)
	if err != nil {
		return step, err
	}
	step.Result = res
	return step, nil
}
