package flow

// ActionKind discriminates what the caller of Advance should do next.
type ActionKind string

const (
	// KindPlayAndAdvance plays Message; the traversal has moved to NextNodeID.
	KindPlayAndAdvance ActionKind = "play_and_advance"
	// KindPlayAndEnd plays Message; the flow is over and the session has
	// been marked failed because no terminal action was reached.
	KindPlayAndEnd ActionKind = "play_and_end"
	// KindAwaitInput plays Message and waits for a caller key press on the
	// current menu node.
	KindAwaitInput ActionKind = "await_input"
	// KindTransfer hands the call to the agent in Target; the session is
	// now transferring and the traversal is released.
	KindTransfer ActionKind = "transfer"
	// KindGoto jumped to NextNodeID without playing anything.
	KindGoto ActionKind = "goto"
)

// Action is the engine's instruction to the media layer after each step of
// a traversal.
type Action struct {
	Kind       ActionKind   `json:"kind"`
	Message    string       `json:"message,omitempty"`
	NextNodeID string       `json:"next_node_id,omitempty"`
	Target     string       `json:"target,omitempty"`
	Options    []MenuOption `json:"options,omitempty"`
}
