package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dialcore/dialcore/internal/database/models"
)

var (
	// ErrNoRoute is returned when a dialed number has no active mapping.
	ErrNoRoute = errors.New("no route for number")
	// ErrAgentUnavailable is returned when a transfer target does not
	// exist or is offline.
	ErrAgentUnavailable = errors.New("agent unavailable")
)

// Route target kinds.
const (
	TargetAgent = "agent"
	TargetFlow  = "flow"
)

// Target is where a dialed number lands. Exactly one of AgentID or FlowID
// is set, matching Kind.
type Target struct {
	Kind    string `json:"kind"`
	AgentID string `json:"agent_id,omitempty"`
	FlowID  string `json:"flow_id,omitempty"`
}

// Directory is the lookup surface the resolver needs. Lookups return
// (nil, nil) when no record exists.
type Directory interface {
	GetVirtualNumberByNumber(ctx context.Context, number string) (*models.VirtualNumber, error)
	GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error)
	GetIVRFlowByFlowID(ctx context.Context, flowID string) (*models.IVRFlow, error)
}

// Resolver maps dialed numbers to agents or IVR flows. It is a read-only
// view over the directory; number and agent management happens elsewhere.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a routing resolver over the given directory.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger.With("subsystem", "routing")}
}

// Resolve maps a dialed number to its route target. Inactive numbers do not
// route. The target must exist at resolution time: a number pointing at a
// deleted agent or flow is a dead route, not a partial one.
func (r *Resolver) Resolve(ctx context.Context, number string) (Target, error) {
	vn, err := r.dir.GetVirtualNumberByNumber(ctx, number)
	if err != nil {
		return Target{}, fmt.Errorf("looking up number %s: %w", number, err)
	}
	if vn == nil || !vn.Active {
		return Target{}, fmt.Errorf("number %s: %w", number, ErrNoRoute)
	}

	switch vn.RouteType {
	case TargetAgent:
		agent, err := r.dir.GetAgentByAgentID(ctx, vn.RouteTo)
		if err != nil {
			return Target{}, fmt.Errorf("looking up agent %s: %w", vn.RouteTo, err)
		}
		if agent == nil {
			r.logger.Warn("number routes to missing agent", "number", number, "agent_id", vn.RouteTo)
			return Target{}, fmt.Errorf("number %s routes to missing agent %s: %w", number, vn.RouteTo, ErrNoRoute)
		}
		return Target{Kind: TargetAgent, AgentID: agent.AgentID}, nil

	case TargetFlow:
		f, err := r.dir.GetIVRFlowByFlowID(ctx, vn.RouteTo)
		if err != nil {
			return Target{}, fmt.Errorf("looking up flow %s: %w", vn.RouteTo, err)
		}
		if f == nil {
			r.logger.Warn("number routes to missing flow", "number", number, "flow_id", vn.RouteTo)
			return Target{}, fmt.Errorf("number %s routes to missing flow %s: %w", number, vn.RouteTo, ErrNoRoute)
		}
		return Target{Kind: TargetFlow, FlowID: f.FlowID}, nil

	default:
		return Target{}, fmt.Errorf("number %s has unknown route type %q: %w", number, vn.RouteType, ErrNoRoute)
	}
}

// ResolveAgent validates that an agent exists and can take a call. Offline
// agents are unavailable; busy agents still queue.
func (r *Resolver) ResolveAgent(ctx context.Context, agentID string) error {
	agent, err := r.dir.GetAgentByAgentID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("looking up agent %s: %w", agentID, err)
	}
	if agent == nil || agent.Status == models.AgentOffline {
		return fmt.Errorf("agent %s: %w", agentID, ErrAgentUnavailable)
	}
	return nil
}
