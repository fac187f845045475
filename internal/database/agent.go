package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcore/dialcore/internal/database/models"
)

// agentRepo implements AgentRepository.
type agentRepo struct {
	db *DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *DB) AgentRepository {
	return &agentRepo{db: db}
}

// Create inserts a new agent.
func (r *agentRepo) Create(ctx context.Context, agent *models.Agent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, email, extension, password_hash, status, department)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.AgentID, agent.Name, agent.Email, agent.Extension,
		agent.PasswordHash, agent.Status, agent.Department,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	agent.ID = id
	return nil
}

// GetByID returns an agent by ID, or nil if none exists.
func (r *agentRepo) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, email, extension, password_hash, status, department,
		 created_at, updated_at FROM agents WHERE id = ?`, id,
	))
}

// GetByAgentID returns an agent by its public agent ID, or nil if none exists.
func (r *agentRepo) GetByAgentID(ctx context.Context, agentID string) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, email, extension, password_hash, status, department,
		 created_at, updated_at FROM agents WHERE agent_id = ?`, agentID,
	))
}

// List returns all agents ordered by name.
func (r *agentRepo) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, agent_id, name, email, extension, password_hash, status, department,
		 created_at, updated_at FROM agents ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Name, &a.Email, &a.Extension,
			&a.PasswordHash, &a.Status, &a.Department, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}

	return agents, nil
}

// Update modifies an existing agent.
func (r *agentRepo) Update(ctx context.Context, agent *models.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE agents
		 SET agent_id = ?, name = ?, email = ?, extension = ?, password_hash = ?,
		     status = ?, department = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		agent.AgentID, agent.Name, agent.Email, agent.Extension,
		agent.PasswordHash, agent.Status, agent.Department, agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return nil
}

// SetStatus updates just the presence status of an agent.
func (r *agentRepo) SetStatus(ctx context.Context, agentID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = datetime('now') WHERE agent_id = ?`,
		status, agentID,
	)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("updating agent status: no agent %s", agentID)
	}
	return nil
}

// Delete removes an agent.
func (r *agentRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return nil
}

// CountByStatus returns agent counts keyed by presence status.
func (r *agentRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning agent count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent count rows: %w", err)
	}

	return counts, nil
}

func (r *agentRepo) scanOne(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.AgentID, &a.Name, &a.Email, &a.Extension,
		&a.PasswordHash, &a.Status, &a.Department, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &a, nil
}
