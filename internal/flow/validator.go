package flow

import "fmt"

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError indicates a problem that prevents the flow from working.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that may cause unexpected behavior.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue describes a single problem found during flow validation.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	NodeID   string             `json:"node_id,omitempty"`
	Message  string             `json:"message"`
}

// ValidationResult holds the outcome of validating a flow definition.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// Validate checks a flow definition for structural integrity:
//   - Empty flow (no nodes)
//   - Duplicate node IDs
//   - Unknown node types
//   - Dangling prompt next / menu goto references
//   - Transfer nodes and options without a target
//   - Menu nodes without options, options without a key or unknown action
//
// Duplicate menu keys and prompts without a next node are warnings only:
// the engine resolves duplicates first-declared-wins, and a prompt with no
// next ends the flow without a terminal action.
func Validate(f *Flow) *ValidationResult {
	result := &ValidationResult{Valid: true, Issues: []ValidationIssue{}}

	if len(f.Nodes) == 0 {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Message:  "flow has no nodes",
		})
		return result
	}

	// Build a set of node IDs for reference checks, flagging duplicates.
	nodeSet := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if nodeSet[n.ID] {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("duplicate node id %q", n.ID),
			})
			continue
		}
		nodeSet[n.ID] = true
	}

	for _, n := range f.Nodes {
		switch n.Type {
		case NodePrompt:
			if n.Next == "" {
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityWarning,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("prompt node %q has no next node (flow ends here)", n.ID),
				})
			} else if !nodeSet[n.Next] {
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("prompt node %q references non-existent next node %q", n.ID, n.Next),
				})
			}

		case NodeMenu:
			if len(n.Options) == 0 {
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("menu node %q has no options", n.ID),
				})
			}
			seenKeys := make(map[string]bool, len(n.Options))
			for _, opt := range n.Options {
				if opt.Key == "" {
					result.Issues = append(result.Issues, ValidationIssue{
						Severity: SeverityError,
						NodeID:   n.ID,
						Message:  fmt.Sprintf("menu node %q has an option without a key", n.ID),
					})
				} else if seenKeys[opt.Key] {
					result.Issues = append(result.Issues, ValidationIssue{
						Severity: SeverityWarning,
						NodeID:   n.ID,
						Message:  fmt.Sprintf("menu node %q has duplicate key %q (first declared wins)", n.ID, opt.Key),
					})
				}
				seenKeys[opt.Key] = true

				switch opt.Action {
				case OptionActionGoto:
					if !nodeSet[opt.Target] {
						result.Issues = append(result.Issues, ValidationIssue{
							Severity: SeverityError,
							NodeID:   n.ID,
							Message:  fmt.Sprintf("menu node %q key %q references non-existent node %q", n.ID, opt.Key, opt.Target),
						})
					}
				case OptionActionTransfer:
					if opt.Target == "" {
						result.Issues = append(result.Issues, ValidationIssue{
							Severity: SeverityError,
							NodeID:   n.ID,
							Message:  fmt.Sprintf("menu node %q key %q has a transfer with no target", n.ID, opt.Key),
						})
					}
				default:
					result.Issues = append(result.Issues, ValidationIssue{
						Severity: SeverityError,
						NodeID:   n.ID,
						Message:  fmt.Sprintf("menu node %q key %q has unknown action %q", n.ID, opt.Key, opt.Action),
					})
				}
			}

		case NodeTransfer:
			if n.Target == "" {
				result.Issues = append(result.Issues, ValidationIssue{
					Severity: SeverityError,
					NodeID:   n.ID,
					Message:  fmt.Sprintf("transfer node %q has no target", n.ID),
				})
			}

		default:
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
			})
		}
	}

	// If any issues are errors, mark the result as invalid.
	for _, issue := range result.Issues {
		if issue.Severity == SeverityError {
			result.Valid = false
			break
		}
	}

	return result
}
