package agent

import "strings"

// errorMarkers flag a reply as a failure for the context log. Flagged
// exchanges are kept but never shown to the model again.
var errorMarkers = []string{
	"error", "failed", "could not", "unable to", "issue", "problem",
	"apolog", "sorry", "encountered an", "cannot",
}

// IsErrorReply reports whether reply reads as a failure.
func IsErrorReply(reply string) bool {
	lower := strings.ToLower(reply)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// cannedReply turns raw tool output into a spoken reply when the model
// cannot be used.
func cannedReply(results string) string {
	lower := strings.ToLower(results)
	switch {
	case strings.Contains(lower, "turn_on") || strings.Contains(lower, "success"):
		return "Done, Sir. I've executed those commands for you."
	case strings.Contains(lower, "not found") || strings.Contains(lower, "error"):
		switch {
		case strings.Contains(results, "Route not found"):
			return "I apologize, Sir, but I couldn't find a route for that location. Could you provide a more specific address or postcode?"
		case strings.Contains(lower, "not configured"):
			return "I apologize, Sir, but that feature isn't currently configured."
		}
		return "I encountered an issue, Sir: " + truncate(results, 150)
	}
	return "I executed the commands. Results: " + truncate(results, 200)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
