package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveBackendState replaces the execution backend's saved state for
// deploymentID.
func (s *Store) SaveBackendState(ctx context.Context, deploymentID string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_state (deployment_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(deployment_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, deploymentID, string(state), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save backend state: %w", err)
	}
	return nil
}

// LoadBackendState returns the state saved by SaveBackendState.
func (s *Store) LoadBackendState(ctx context.Context, deploymentID string) ([]byte, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM backend_state WHERE deployment_id = ?`, deploymentID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load backend state: %w", err)
	}
	return []byte(state), true, nil
}
