package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/types"
)

// matureState returns a state past the early-debate guards: deep enough
// and late enough that the facilitator may act.
func matureState(t *testing.T) *types.ConversationState {
	t.Helper()
	roster := testRoster(t, "sato", "suzuki")
	state := types.NewConversationState("run-1", "topic", roster, 24)
	state.CurrentTurn = 16
	state.DiscussionDepth = 0.8
	state.Transcript = []types.Utterance{
		{Turn: 15, Agent: "sato", Text: "point A"},
		{Turn: 16, Agent: "suzuki", Text: "point B"},
	}
	return state
}

func newFacilitator(gw *fakeGateway) *Facilitator {
	return NewFacilitator(gw, config.DefaultRunConfig(), zap.NewNop())
}

func TestFacilitator_NeverActsWithPendingQuestions(t *testing.T) {
	var calls int
	gw := &fakeGateway{complete: func(context.Context, string) (string, error) {
		calls++
		return "stagnated", nil
	}}

	state := matureState(t)
	state.AddQuestion("unresolved point")

	action, msg := newFacilitator(gw).Check(context.Background(), state)
	assert.Equal(t, types.FacilitatorContinue, action)
	assert.Empty(t, msg)
	assert.Zero(t, calls, "no gateway call may happen with open questions")
}

func TestFacilitator_ContinuesWhileShallow(t *testing.T) {
	state := matureState(t)
	state.DiscussionDepth = 0.5

	action, _ := newFacilitator(&fakeGateway{}).Check(context.Background(), state)
	assert.Equal(t, types.FacilitatorContinue, action)
}

func TestFacilitator_ContinuesEarlyInTheDebate(t *testing.T) {
	state := matureState(t)
	state.CurrentTurn = 8 // below 0.6 * 24

	action, _ := newFacilitator(&fakeGateway{}).Check(context.Background(), state)
	assert.Equal(t, types.FacilitatorContinue, action)
}

func TestFacilitator_ProposesWhenNearlyDoneAndReady(t *testing.T) {
	var calls int
	gw := &fakeGateway{complete: func(context.Context, string) (string, error) {
		calls++
		return "progressing", nil
	}}

	state := matureState(t)
	state.CurrentTurn = 22 // 2 turns left
	state.SetReady("sato", true)
	state.SetReady("suzuki", true)

	action, _ := newFacilitator(gw).Check(context.Background(), state)
	assert.Equal(t, types.FacilitatorProposeConclusion, action)
	assert.Zero(t, calls, "readiness-based proposal needs no judgment call")
}

func TestFacilitator_ProposesOnStagnation(t *testing.T) {
	gw := &fakeGateway{complete: func(_ context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, "point A")
		assert.Contains(t, prompt, "point B")
		return "stagnated", nil
	}}

	action, _ := newFacilitator(gw).Check(context.Background(), matureState(t))
	assert.Equal(t, types.FacilitatorProposeConclusion, action)
}

func TestFacilitator_StagnationCheckFailureContinues(t *testing.T) {
	gw := &fakeGateway{complete: func(context.Context, string) (string, error) {
		return "", errors.New("gateway down")
	}}

	action, _ := newFacilitator(gw).Check(context.Background(), matureState(t))
	assert.Equal(t, types.FacilitatorContinue, action)
}

func TestFacilitator_IntervenesOtherwise(t *testing.T) {
	gw := &fakeGateway{complete: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Has the discussion stagnated") {
			return "progressing", nil
		}
		return "  Consider the opposing view on costs.  ", nil
	}}

	action, msg := newFacilitator(gw).Check(context.Background(), matureState(t))
	assert.Equal(t, types.FacilitatorIntervene, action)
	assert.Equal(t, "Consider the opposing view on costs.", msg)
}

func TestFacilitator_RedirectFailureContinues(t *testing.T) {
	gw := &fakeGateway{complete: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Has the discussion stagnated") {
			return "progressing", nil
		}
		return "", errors.New("gateway down")
	}}

	action, _ := newFacilitator(gw).Check(context.Background(), matureState(t))
	assert.Equal(t, types.FacilitatorContinue, action)
}
