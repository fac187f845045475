package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
)

// ivrFlowRepo implements IVRFlowRepository.
type ivrFlowRepo struct {
	db *DB
}

// NewIVRFlowRepository creates a new IVRFlowRepository.
func NewIVRFlowRepository(db *DB) IVRFlowRepository {
	return &ivrFlowRepo{db: db}
}

// Create inserts a new flow.
func (r *ivrFlowRepo) Create(ctx context.Context, f *models.IVRFlow) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO ivr_flows (flow_id, name, definition) VALUES (?, ?, ?)`,
		f.FlowID, f.Name, f.Definition,
	)
	if err != nil {
		return fmt.Errorf("inserting ivr flow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	f.ID = id
	return nil
}

// GetByID returns a flow by ID, or nil if none exists.
func (r *ivrFlowRepo) GetByID(ctx context.Context, id int64) (*models.IVRFlow, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, flow_id, name, definition, created_at, updated_at
		 FROM ivr_flows WHERE id = ?`, id,
	))
}

// GetByFlowID returns a flow by its public flow ID, or nil if none exists.
func (r *ivrFlowRepo) GetByFlowID(ctx context.Context, flowID string) (*models.IVRFlow, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, flow_id, name, definition, created_at, updated_at
		 FROM ivr_flows WHERE flow_id = ?`, flowID,
	))
}

// List returns all flows ordered by name.
func (r *ivrFlowRepo) List(ctx context.Context) ([]models.IVRFlow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, flow_id, name, definition, created_at, updated_at
		 FROM ivr_flows ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ivr flows: %w", err)
	}
	defer rows.Close()

	var flows []models.IVRFlow
	for rows.Next() {
		var f models.IVRFlow
		if err := rows.Scan(&f.ID, &f.FlowID, &f.Name, &f.Definition,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning ivr flow row: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ivr flow rows: %w", err)
	}

	return flows, nil
}

// Update replaces a stored flow definition. Calls already inside the flow
// keep their own parsed snapshot and are unaffected.
func (r *ivrFlowRepo) Update(ctx context.Context, f *models.IVRFlow) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ivr_flows
		 SET flow_id = ?, name = ?, definition = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		f.FlowID, f.Name, f.Definition, f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating ivr flow: %w", err)
	}
	return nil
}

// Delete removes a flow.
func (r *ivrFlowRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ivr_flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ivr flow: %w", err)
	}
	return nil
}

func (r *ivrFlowRepo) scanOne(row *sql.Row) (*models.IVRFlow, error) {
	var f models.IVRFlow
	err := row.Scan(&f.ID, &f.FlowID, &f.Name, &f.Definition, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ivr flow: %w", err)
	}
	return &f, nil
}
