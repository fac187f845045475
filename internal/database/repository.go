package database

import (
	"context"
	"time"

	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/database/models"
)

// VirtualNumberRepository manages inbound number mappings.
type VirtualNumberRepository interface {
	Create(ctx context.Context, vn *models.VirtualNumber) error
	GetByID(ctx context.Context, id int64) (*models.VirtualNumber, error)
	GetByNumber(ctx context.Context, number string) (*models.VirtualNumber, error)
	List(ctx context.Context) ([]models.VirtualNumber, error)
	Update(ctx context.Context, vn *models.VirtualNumber) error
	Delete(ctx context.Context, id int64) error
}

// AgentRepository manages call-center agents.
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id int64) (*models.Agent, error)
	GetByAgentID(ctx context.Context, agentID string) (*models.Agent, error)
	List(ctx context.Context) ([]models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	SetStatus(ctx context.Context, agentID, status string) error
	Delete(ctx context.Context, id int64) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// IVRFlowRepository manages stored flow definitions.
type IVRFlowRepository interface {
	Create(ctx context.Context, f *models.IVRFlow) error
	GetByID(ctx context.Context, id int64) (*models.IVRFlow, error)
	GetByFlowID(ctx context.Context, flowID string) (*models.IVRFlow, error)
	List(ctx context.Context) ([]models.IVRFlow, error)
	Update(ctx context.Context, f *models.IVRFlow) error
	Delete(ctx context.Context, id int64) error
}

// CallRecordRepository is the durable side of the call lifecycle. Append and
// Finalize satisfy the session manager's record store; the query methods
// serve the CDR API. Finalized records are never updated again.
type CallRecordRepository interface {
	Append(ctx context.Context, s call.Session) error
	Finalize(ctx context.Context, s call.Session) error
	GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error)
	List(ctx context.Context, filter models.CallRecordFilter) ([]models.CallRecord, int, error)
	Summary(ctx context.Context, filter models.CallRecordFilter) (*models.CallSummary, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountByState(ctx context.Context) (map[string]int, error)
}
