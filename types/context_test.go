package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	_, ok := RunIDFrom(ctx)
	assert.False(t, ok)

	ctx = WithRunID(ctx, "run-42")
	ctx = WithTurn(ctx, 7)
	ctx = WithAgent(ctx, AgentID("sato"))

	runID, ok := RunIDFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "run-42", runID)

	turn, ok := TurnFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, 7, turn)

	agent, ok := AgentFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, AgentID("sato"), agent)
}

func TestContextValues_EmptyStringsNotFound(t *testing.T) {
	ctx := WithRunID(context.Background(), "")
	_, ok := RunIDFrom(ctx)
	assert.False(t, ok)

	ctx = WithAgent(context.Background(), "")
	_, ok = AgentFrom(ctx)
	assert.False(t, ok)
}
