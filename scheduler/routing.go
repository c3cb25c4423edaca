package scheduler

import (
	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/metrics"
	"github.com/BaSui01/debateflow/types"
)

// Node is a routing destination in the turn loop.
type Node string

const (
	// NodeAgentTurn runs the nominated agent's turn.
	NodeAgentTurn Node = "agent_turn"
	// NodeFacilitator runs a facilitator check before the next turn.
	NodeFacilitator Node = "facilitator_check"
	// NodeConclusion enters the conclusion pipeline; the turn loop ends.
	NodeConclusion Node = "conclusion"
)

// RouteInput is the full set of facts routing may consult. Route is a pure
// function of this struct; the scheduler owns reading it off the state.
type RouteInput struct {
	NextSpeaker      string
	CurrentTurn      int
	MaxTurns         int
	PendingQuestions int

	FacilitatorCheckInterval int

	Convergence float64
	ReadyRatio  float64
	Depth       float64

	ConvergenceThreshold float64
	ReadyRatioThreshold  float64
	DepthThreshold       float64
}

// Route decides the next node. The checks are strictly ordered: an explicit
// conclusion nomination wins over everything, the turn cap over everything
// below it, and open questions force the debate onward past both the
// facilitator and the metric gate.
func Route(in RouteInput) Node {
	if in.NextSpeaker == types.SpeakerConclusion {
		return NodeConclusion
	}
	if in.CurrentTurn >= in.MaxTurns {
		return NodeConclusion
	}
	if in.PendingQuestions > 0 {
		return NodeAgentTurn
	}
	if in.FacilitatorCheckInterval > 0 &&
		in.CurrentTurn > 0 &&
		in.CurrentTurn%in.FacilitatorCheckInterval == 0 {
		return NodeFacilitator
	}
	if in.Convergence > in.ConvergenceThreshold &&
		in.ReadyRatio > in.ReadyRatioThreshold &&
		in.Depth > in.DepthThreshold {
		return NodeConclusion
	}
	return NodeAgentTurn
}

// routeInput projects the conversation state and run config into a
// RouteInput.
func routeInput(state *types.ConversationState, run config.RunConfig) RouteInput {
	return RouteInput{
		NextSpeaker:              state.NextSpeaker,
		CurrentTurn:              state.CurrentTurn,
		MaxTurns:                 state.MaxTurns,
		PendingQuestions:         len(state.PendingQuestions),
		FacilitatorCheckInterval: run.FacilitatorCheckInterval,
		Convergence:              state.ConvergenceScore,
		ReadyRatio:               metrics.ReadyRatio(state.ReadyFlags),
		Depth:                    state.DiscussionDepth,
		ConvergenceThreshold:     run.ConvergenceThreshold,
		ReadyRatioThreshold:      run.ReadyRatioThreshold,
		DepthThreshold:           run.DepthThreshold,
	}
}
