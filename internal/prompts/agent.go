package prompts

import "fmt"

// ToolResults wraps combined tool output for the next model turn.
func ToolResults(combined string) string {
	return "Function results:\n" + combined
}

// ToolResultsRetry is the simplified resend used when the model rejects
// ToolResults.
func ToolResultsRetry(combined string) string {
	return fmt.Sprintf("Based on these results, provide a natural response: %s", combined)
}

// Fixed replies used when the model cannot produce one.
const (
	NoTextFallback  = "I apologize, Sir. I encountered an issue formulating my response."
	SafetyFallback  = "I apologize, Sir, but that request triggered a safety filter. This sometimes happens with complex multi-step queries. Try breaking it into simpler parts, for example asking for each destination separately."
	GenericFallback = "I encountered an error processing that, Sir. Please try again in a moment."
)
