package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRunID contextKey = "run_id"
	keyTurn  contextKey = "turn"
	keyAgent contextKey = "agent"
)

// WithRunID adds the run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunIDFrom extracts the run ID from context.
func RunIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithTurn adds the current turn number to context.
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, keyTurn, turn)
}

// TurnFrom extracts the turn number from context.
func TurnFrom(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyTurn).(int)
	return v, ok
}

// WithAgent adds the speaking agent's ID to context.
func WithAgent(ctx context.Context, agent AgentID) context.Context {
	return context.WithValue(ctx, keyAgent, agent)
}

// AgentFrom extracts the speaking agent's ID from context.
func AgentFrom(ctx context.Context) (AgentID, bool) {
	v, ok := ctx.Value(keyAgent).(AgentID)
	return v, ok && v != ""
}
