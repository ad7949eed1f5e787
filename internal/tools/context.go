package tools

import "context"

type conversationKey struct{}

// WithConversationID tags ctx with the conversation a tool call runs
// in. Handlers use it for logging and to label timers.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationIDFromContext returns the tagged conversation, or
// "default" for calls made outside a conversation (MCP, tests).
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	if id == "" {
		return "default"
	}
	return id
}
