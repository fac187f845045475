package flow

import (
	"encoding/json"
	"fmt"
)

// NodeType discriminates the IVR node variants.
type NodeType string

const (
	// NodePrompt plays a message and continues to the next node (or ends
	// the flow if it has no next).
	NodePrompt NodeType = "prompt"
	// NodeMenu plays a message and waits for a caller key press.
	NodeMenu NodeType = "menu"
	// NodeTransfer hands the call to an agent or extension and ends the flow.
	NodeTransfer NodeType = "transfer"
)

// OptionAction is what a matched menu option does.
type OptionAction string

const (
	// OptionActionTransfer transfers the call to the option's target agent.
	OptionActionTransfer OptionAction = "transfer"
	// OptionActionGoto jumps to the option's target node within the flow.
	OptionActionGoto OptionAction = "goto"
)

// MenuOption maps a single DTMF key to an action.
type MenuOption struct {
	Key    string       `json:"key"`
	Label  string       `json:"label,omitempty"`
	Action OptionAction `json:"action"`
	Target string       `json:"target"`
}

// Node is one node of an IVR flow graph. Which fields are meaningful depends
// on Type: prompt uses Message and Next, menu uses Message and Options,
// transfer uses Target.
type Node struct {
	ID      string       `json:"id"`
	Type    NodeType     `json:"type"`
	Message string       `json:"message,omitempty"`
	Next    string       `json:"next,omitempty"`
	Options []MenuOption `json:"options,omitempty"`
	Target  string       `json:"target,omitempty"`
}

// Option returns the first declared option matching key exactly. Duplicate
// keys are a configuration defect; first declared wins.
func (n Node) Option(key string) (MenuOption, bool) {
	for _, opt := range n.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return MenuOption{}, false
}

// Flow is a named directed graph of IVR nodes. The first declared node is
// the entry point. Flows are replaced whole; the engine binds to a parsed
// snapshot so editing a stored flow never affects calls already inside it.
type Flow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
}

// Node returns the node with the given id.
func (f *Flow) Node(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Start returns the flow's entry node (the first declared node).
func (f *Flow) Start() (Node, bool) {
	if len(f.Nodes) == 0 {
		return Node{}, false
	}
	return f.Nodes[0], true
}

// ParseFlow parses a stored JSON flow definition into a fresh Flow snapshot.
func ParseFlow(data string) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("unmarshaling flow definition: %w", err)
	}
	return &f, nil
}
