package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	"github.com/BaSui01/debateflow/metrics"
	"github.com/BaSui01/debateflow/types"
)

const stagnationPromptTemplate = `You are moderating a debate on the topic: %s

Here are the most recent statements:
%s

Has the discussion stagnated? A stagnated discussion repeats the same points,
trades empty agreement, or circles without new arguments. Answer with exactly
one word: "stagnated" or "progressing".`

const redirectPromptTemplate = `You are moderating a debate on the topic: %s

Recent statements:
%s

The discussion needs a push. Write one short moderator message (two sentences
at most) that redirects the participants toward an unexplored aspect of the
topic or a disagreement worth examining. Address the group, not one person.`

// Facilitator implements the periodic moderation policy. It only ever
// returns an action and an optional message; applying them to the state is
// the scheduler's job.
type Facilitator struct {
	gw     gateway.Gateway
	run    config.RunConfig
	logger *zap.Logger
}

func NewFacilitator(gw gateway.Gateway, run config.RunConfig, logger *zap.Logger) *Facilitator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facilitator{
		gw:     gw,
		run:    run,
		logger: logger.With(zap.String("component", "facilitator")),
	}
}

// Check evaluates the state and picks an action. The rules, in order:
// open questions or an early/shallow debate always continue; a stagnated
// debate, or near-unanimous readiness with almost no turns left, proposes
// the conclusion; otherwise the facilitator intervenes with a redirect.
// A failed stagnation judgment degrades to continue.
func (f *Facilitator) Check(ctx context.Context, state *types.ConversationState) (types.FacilitatorAction, string) {
	if state.HasPendingQuestions() {
		return types.FacilitatorContinue, ""
	}
	if state.DiscussionDepth < f.run.DepthThreshold {
		return types.FacilitatorContinue, ""
	}
	if float64(state.CurrentTurn) < 0.6*float64(state.MaxTurns) {
		return types.FacilitatorContinue, ""
	}

	turnsLeft := state.MaxTurns - state.CurrentTurn
	if metrics.ReadyRatio(state.ReadyFlags) > f.run.ReadyRatioThreshold && turnsLeft < 3 {
		return types.FacilitatorProposeConclusion, ""
	}

	stagnated, err := f.judgeStagnation(ctx, state)
	if err != nil {
		f.logger.Warn("stagnation judgment unavailable, continuing",
			zap.String("run_id", state.RunID),
			zap.Error(err),
		)
		return types.FacilitatorContinue, ""
	}
	if stagnated {
		return types.FacilitatorProposeConclusion, ""
	}

	msg, err := f.redirect(ctx, state)
	if err != nil {
		f.logger.Warn("redirect generation failed, continuing",
			zap.String("run_id", state.RunID),
			zap.Error(err),
		)
		return types.FacilitatorContinue, ""
	}
	return types.FacilitatorIntervene, msg
}

// judgeStagnation asks the gateway whether the trailing window of the
// transcript shows a stalled discussion.
func (f *Facilitator) judgeStagnation(ctx context.Context, state *types.ConversationState) (bool, error) {
	window := f.run.StagnationWindow
	if window <= 0 {
		window = 3
	}
	recent := state.LastUtterances(window)
	if len(recent) < 2 {
		return false, nil
	}

	prompt := fmt.Sprintf(stagnationPromptTemplate, state.Topic, renderUtterances(recent))
	answer, err := f.gw.Complete(ctx, prompt)
	if err != nil {
		return false, types.NewError(types.ErrStagnationCheck, "stagnation judgment failed").WithCause(err)
	}
	return strings.Contains(strings.ToLower(answer), "stagnated"), nil
}

func (f *Facilitator) redirect(ctx context.Context, state *types.ConversationState) (string, error) {
	window := f.run.StagnationWindow
	if window <= 0 {
		window = 3
	}
	prompt := fmt.Sprintf(redirectPromptTemplate, state.Topic,
		renderUtterances(state.LastUtterances(window)))
	msg, err := f.gw.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg), nil
}

func renderUtterances(us []types.Utterance) string {
	var b strings.Builder
	for i, u := range us {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.String())
	}
	return b.String()
}
