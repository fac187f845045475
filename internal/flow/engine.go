package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dialcore/dialcore/internal/call"
)

var (
	// ErrFlowNotFound is returned when no flow exists with the given ID.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrInvalidFlow is returned when a flow fails structural validation.
	ErrInvalidFlow = errors.New("invalid flow")
	// ErrNoTraversal is returned when a session has no active flow traversal.
	ErrNoTraversal = errors.New("no active traversal for session")
	// ErrMenuRetriesExhausted is returned when a menu node runs out of
	// input retries; the session has already been failed.
	ErrMenuRetriesExhausted = errors.New("menu retries exhausted")
)

// A menu node re-prompts on unmapped keys until the budget is spent, then
// the session fails.
const maxMenuRetries = 3

// FlowSource loads stored flow definitions. Returns ("", nil) when no flow
// exists with the given ID.
type FlowSource interface {
	GetFlowDefinition(ctx context.Context, id string) (string, error)
}

// SessionControl is the slice of the session manager the engine drives.
type SessionControl interface {
	Transition(ctx context.Context, id string, next call.State, meta *call.TransitionMeta) error
	SetNode(ctx context.Context, id, nodeID string) error
	Fail(ctx context.Context, id, reason string) error
}

// AgentResolver validates transfer targets before the engine commits a
// session to transferring.
type AgentResolver interface {
	ResolveAgent(ctx context.Context, agentID string) error
}

// traversal binds one live session to a parsed snapshot of a flow. The
// snapshot is private to the session: concurrent edits to the stored flow
// never affect it.
type traversal struct {
	flow    *Flow
	current string
	retries int
}

// Engine walks live call sessions through IVR flows. All node semantics
// re-enter the session manager, so every observable state change flows
// through the same transition checks and event fan-out as any other call.
type Engine struct {
	flows    FlowSource
	sessions SessionControl
	agents   AgentResolver
	logger   *slog.Logger

	mu         sync.Mutex
	traversals map[string]*traversal
}

// NewEngine creates a flow engine. Wire Release into the session manager's
// terminal hook so traversals never outlive their sessions.
func NewEngine(flows FlowSource, sessions SessionControl, agents AgentResolver, logger *slog.Logger) *Engine {
	return &Engine{
		flows:      flows,
		sessions:   sessions,
		agents:     agents,
		logger:     logger.With("subsystem", "flow"),
		traversals: make(map[string]*traversal),
	}
}

// Enter answers the session into the given flow and binds a traversal at the
// flow's entry node. The stored definition is re-parsed here so the session
// keeps its own snapshot for the life of the traversal. A missing or invalid
// flow fails the session: the caller is already live and there is nowhere
// sensible to send them.
func (e *Engine) Enter(ctx context.Context, flowID, sessionID string) (Node, error) {
	def, err := e.flows.GetFlowDefinition(ctx, flowID)
	if err != nil {
		e.failSession(ctx, sessionID, "flow lookup failed")
		return Node{}, fmt.Errorf("loading flow %s: %w", flowID, err)
	}
	if def == "" {
		e.failSession(ctx, sessionID, "flow not found")
		return Node{}, fmt.Errorf("flow %s: %w", flowID, ErrFlowNotFound)
	}

	f, err := ParseFlow(def)
	if err != nil {
		e.failSession(ctx, sessionID, "flow definition unparseable")
		return Node{}, fmt.Errorf("flow %s: %w", flowID, ErrInvalidFlow)
	}
	if result := Validate(f); !result.Valid {
		e.failSession(ctx, sessionID, "flow failed validation")
		return Node{}, fmt.Errorf("flow %s: %w", flowID, ErrInvalidFlow)
	}

	start, _ := f.Start()

	// The platform answers the call to play the entry node. A session that
	// is already answered (entering a flow mid-call) just moves its node.
	err = e.sessions.Transition(ctx, sessionID, call.StateAnswered, &call.TransitionMeta{CurrentNode: &start.ID})
	if errors.Is(err, call.ErrInvalidTransition) {
		err = e.sessions.SetNode(ctx, sessionID, start.ID)
	}
	if err != nil {
		return Node{}, fmt.Errorf("answering session %s into flow %s: %w", sessionID, flowID, err)
	}

	e.mu.Lock()
	e.traversals[sessionID] = &traversal{flow: f, current: start.ID}
	e.mu.Unlock()

	e.logger.Info("session entered flow", "session_id", sessionID, "flow_id", flowID, "node", start.ID)
	return start, nil
}

// Advance executes the session's current node and moves the traversal.
// Input carries the caller's key press and is only consulted on menu nodes;
// pass "" to (re)play the current node.
func (e *Engine) Advance(ctx context.Context, sessionID, input string) (Action, error) {
	e.mu.Lock()
	tr, ok := e.traversals[sessionID]
	if !ok {
		e.mu.Unlock()
		return Action{}, fmt.Errorf("session %s: %w", sessionID, ErrNoTraversal)
	}
	node, ok := tr.flow.Node(tr.current)
	e.mu.Unlock()
	if !ok {
		// The traversal points at a node the snapshot does not have. The
		// validator rules this out at Enter, so treat it as a broken flow.
		e.Release(sessionID)
		e.failSession(ctx, sessionID, "traversal at unknown node")
		return Action{}, fmt.Errorf("session %s at unknown node %s: %w", sessionID, tr.current, ErrInvalidFlow)
	}

	switch node.Type {
	case NodePrompt:
		return e.advancePrompt(ctx, sessionID, tr, node)
	case NodeMenu:
		return e.advanceMenu(ctx, sessionID, tr, node, input)
	case NodeTransfer:
		return e.transfer(ctx, sessionID, node.Target)
	default:
		e.Release(sessionID)
		e.failSession(ctx, sessionID, "unknown node type")
		return Action{}, fmt.Errorf("session %s node %s has unknown type %q: %w", sessionID, node.ID, node.Type, ErrInvalidFlow)
	}
}

func (e *Engine) advancePrompt(ctx context.Context, sessionID string, tr *traversal, node Node) (Action, error) {
	if node.Next == "" {
		// Flow ran out without a terminal action. Play the last message
		// and fail the session.
		e.Release(sessionID)
		e.failSession(ctx, sessionID, "flow ended without terminal action")
		return Action{Kind: KindPlayAndEnd, Message: node.Message}, nil
	}

	if err := e.sessions.SetNode(ctx, sessionID, node.Next); err != nil {
		e.Release(sessionID)
		return Action{}, fmt.Errorf("advancing session %s to node %s: %w", sessionID, node.Next, err)
	}

	e.mu.Lock()
	tr.current = node.Next
	e.mu.Unlock()

	return Action{Kind: KindPlayAndAdvance, Message: node.Message, NextNodeID: node.Next}, nil
}

func (e *Engine) advanceMenu(ctx context.Context, sessionID string, tr *traversal, node Node, input string) (Action, error) {
	if input == "" {
		return Action{Kind: KindAwaitInput, Message: node.Message, Options: node.Options}, nil
	}

	opt, ok := node.Option(input)
	if !ok {
		e.mu.Lock()
		tr.retries++
		retries := tr.retries
		e.mu.Unlock()

		if retries >= maxMenuRetries {
			e.Release(sessionID)
			e.failSession(ctx, sessionID, "menu retries exhausted")
			return Action{}, fmt.Errorf("session %s node %s: %w", sessionID, node.ID, ErrMenuRetriesExhausted)
		}
		e.logger.Debug("unmapped menu key", "session_id", sessionID, "node", node.ID, "key", input, "retries", retries)
		return Action{Kind: KindAwaitInput, Message: node.Message, Options: node.Options}, nil
	}

	switch opt.Action {
	case OptionActionTransfer:
		return e.transfer(ctx, sessionID, opt.Target)

	case OptionActionGoto:
		if _, exists := tr.flow.Node(opt.Target); !exists {
			e.Release(sessionID)
			e.failSession(ctx, sessionID, "goto target missing from flow")
			return Action{}, fmt.Errorf("session %s goto %s: %w", sessionID, opt.Target, call.ErrInvalidTransition)
		}
		if err := e.sessions.SetNode(ctx, sessionID, opt.Target); err != nil {
			e.Release(sessionID)
			return Action{}, fmt.Errorf("moving session %s to node %s: %w", sessionID, opt.Target, err)
		}
		e.mu.Lock()
		tr.current = opt.Target
		tr.retries = 0
		e.mu.Unlock()
		return Action{Kind: KindGoto, NextNodeID: opt.Target}, nil

	default:
		e.Release(sessionID)
		e.failSession(ctx, sessionID, "menu option has unknown action")
		return Action{}, fmt.Errorf("session %s node %s action %q: %w", sessionID, node.ID, opt.Action, ErrInvalidFlow)
	}
}

// transfer validates the target agent and commits the session to
// transferring. Either way the flow is done with this session.
func (e *Engine) transfer(ctx context.Context, sessionID, target string) (Action, error) {
	e.Release(sessionID)

	if err := e.agents.ResolveAgent(ctx, target); err != nil {
		e.failSession(ctx, sessionID, "transfer target unresolved")
		return Action{}, fmt.Errorf("resolving transfer target %s for session %s: %w", target, sessionID, err)
	}
	if err := e.sessions.Transition(ctx, sessionID, call.StateTransferring, nil); err != nil {
		return Action{}, fmt.Errorf("transferring session %s: %w", sessionID, err)
	}

	e.logger.Info("session transferred out of flow", "session_id", sessionID, "target", target)
	return Action{Kind: KindTransfer, Target: target}, nil
}

// Release drops the traversal for a session, if any. Safe to call for
// sessions that never entered a flow; the session manager's terminal hook
// calls it for every call that ends.
func (e *Engine) Release(sessionID string) {
	e.mu.Lock()
	delete(e.traversals, sessionID)
	e.mu.Unlock()
}

// ActiveTraversals reports how many sessions are currently inside a flow.
func (e *Engine) ActiveTraversals() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.traversals)
}

func (e *Engine) failSession(ctx context.Context, sessionID, reason string) {
	if err := e.sessions.Fail(ctx, sessionID, reason); err != nil && !errors.Is(err, call.ErrNotFound) {
		e.logger.Error("failed to fail session", "session_id", sessionID, "reason", reason, "error", err)
	}
}
