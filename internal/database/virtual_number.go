package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
)

// virtualNumberRepo implements VirtualNumberRepository.
type virtualNumberRepo struct {
	db *DB
}

// NewVirtualNumberRepository creates a new VirtualNumberRepository.
func NewVirtualNumberRepository(db *DB) VirtualNumberRepository {
	return &virtualNumberRepo{db: db}
}

// Create inserts a new virtual number mapping.
func (r *virtualNumberRepo) Create(ctx context.Context, vn *models.VirtualNumber) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO virtual_numbers (number, route_type, route_to, department, active)
		 VALUES (?, ?, ?, ?, ?)`,
		vn.Number, vn.RouteType, vn.RouteTo, vn.Department, vn.Active,
	)
	if err != nil {
		return fmt.Errorf("inserting virtual number: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	vn.ID = id
	return nil
}

// GetByID returns a virtual number by ID, or nil if none exists.
func (r *virtualNumberRepo) GetByID(ctx context.Context, id int64) (*models.VirtualNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, number, route_type, route_to, department, active, created_at, updated_at
		 FROM virtual_numbers WHERE id = ?`, id,
	))
}

// GetByNumber returns the mapping for a dialed number, or nil if none exists.
func (r *virtualNumberRepo) GetByNumber(ctx context.Context, number string) (*models.VirtualNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, number, route_type, route_to, department, active, created_at, updated_at
		 FROM virtual_numbers WHERE number = ?`, number,
	))
}

// List returns all virtual numbers ordered by number.
func (r *virtualNumberRepo) List(ctx context.Context) ([]models.VirtualNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, number, route_type, route_to, department, active, created_at, updated_at
		 FROM virtual_numbers ORDER BY number`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing virtual numbers: %w", err)
	}
	defer rows.Close()

	var numbers []models.VirtualNumber
	for rows.Next() {
		var vn models.VirtualNumber
		if err := rows.Scan(&vn.ID, &vn.Number, &vn.RouteType, &vn.RouteTo,
			&vn.Department, &vn.Active, &vn.CreatedAt, &vn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning virtual number row: %w", err)
		}
		numbers = append(numbers, vn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating virtual number rows: %w", err)
	}

	return numbers, nil
}

// Update modifies an existing virtual number.
func (r *virtualNumberRepo) Update(ctx context.Context, vn *models.VirtualNumber) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE virtual_numbers
		 SET number = ?, route_type = ?, route_to = ?, department = ?, active = ?,
		     updated_at = datetime('now')
		 WHERE id = ?`,
		vn.Number, vn.RouteType, vn.RouteTo, vn.Department, vn.Active, vn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating virtual number: %w", err)
	}
	return nil
}

// Delete removes a virtual number.
func (r *virtualNumberRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM virtual_numbers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting virtual number: %w", err)
	}
	return nil
}

func (r *virtualNumberRepo) scanOne(row *sql.Row) (*models.VirtualNumber, error) {
	var vn models.VirtualNumber
	err := row.Scan(&vn.ID, &vn.Number, &vn.RouteType, &vn.RouteTo,
		&vn.Department, &vn.Active, &vn.CreatedAt, &vn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning virtual number: %w", err)
	}
	return &vn, nil
}
