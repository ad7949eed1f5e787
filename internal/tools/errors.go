package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered. The orchestrator only dispatches advertised names, so
// this indicates a configuration bug rather than a runtime condition.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}
