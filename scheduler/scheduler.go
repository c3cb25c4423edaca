// Package scheduler drives a debate run: it owns the conversation state,
// routes between agent turns, facilitator checks, and the conclusion
// pipeline, and emits the ordered event stream presentation layers consume.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/checkpoint"
	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	intmetrics "github.com/BaSui01/debateflow/internal/metrics"
	"github.com/BaSui01/debateflow/metrics"
	"github.com/BaSui01/debateflow/types"
)

// degradedUtterance is the emergency statement recorded when an agent's
// decision cannot be obtained; the debate advances instead of stalling.
const degradedUtterance = "I need more time to think about this."

const defaultEventBuffer = 256

// Scheduler runs one debate at a time. It is the sole mutator of the
// conversation state; every other component sees snapshots.
type Scheduler struct {
	cfg    *config.Config
	gw     gateway.Gateway
	roster *types.Roster

	facilitator *Facilitator
	conclusion  *ConclusionRunner

	store     checkpoint.Store
	collector *intmetrics.Collector
	logger    *zap.Logger

	events      chan types.Event
	resumeRunID string
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithCheckpointStore enables checkpointing after every turn.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithCollector attaches a metrics collector.
func WithCollector(col *intmetrics.Collector) Option {
	return func(s *Scheduler) { s.collector = col }
}

// WithResume resumes the run with the given ID from its latest checkpoint
// instead of starting fresh. Requires a checkpoint store.
func WithResume(runID string) Option {
	return func(s *Scheduler) { s.resumeRunID = runID }
}

// New validates the configuration and builds a scheduler. Configuration
// and roster violations are the only fatal errors in the system; anything
// after this point degrades instead of aborting.
func New(cfg *config.Config, gw gateway.Gateway, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roster, err := cfg.Roster()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cfg:         cfg,
		gw:          gw,
		roster:      roster,
		facilitator: NewFacilitator(gw, cfg.Run, logger),
		conclusion:  NewConclusionRunner(gw, cfg.Run.MaxConcurrentComments, logger),
		logger:      logger.With(zap.String("component", "scheduler")),
		events:      make(chan types.Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resumeRunID != "" && s.store == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "resume requires a checkpoint store")
	}
	return s, nil
}

// Events returns the run's event stream. The channel closes when Run
// returns; consumers must drain it until then. Lagging consumers lose
// intermediate events, never the terminal one.
func (s *Scheduler) Events() <-chan types.Event {
	return s.events
}

// Run executes the debate until it concludes, fails, or ctx is cancelled.
// Cancellation is honored at turn boundaries; a turn in flight completes.
func (s *Scheduler) Run(ctx context.Context) (*types.ConversationState, error) {
	defer close(s.events)

	state, err := s.initialState(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("run started",
		zap.String("run_id", state.RunID),
		zap.String("topic", state.Topic),
		zap.Int("agents", s.roster.Len()),
		zap.Int("max_turns", state.MaxTurns),
	)
	started := time.Now()
	ctx = types.WithRunID(ctx, state.RunID)

	for {
		if err := ctx.Err(); err != nil {
			cancelled := types.NewError(types.ErrRunCancelled, "run cancelled").WithCause(err)
			s.emitError(state, cancelled)
			s.observeRun("cancelled", started)
			return state, cancelled
		}

		switch Route(routeInput(state, s.cfg.Run)) {
		case NodeConclusion:
			result, err := s.conclusion.Run(ctx, state, s.emit)
			if err != nil {
				s.emitError(state, err)
				s.observeRun("failed", started)
				return state, err
			}
			state.Conclusion = result
			s.logger.Info("run concluded",
				zap.String("run_id", state.RunID),
				zap.Int("turns", state.CurrentTurn),
				zap.Int("peer_comments", len(result.PeerComments)),
				zap.Int("failed_comments", len(result.Failed)),
			)
			s.observeRun("concluded", started)
			return state, nil

		case NodeFacilitator:
			proposed := s.facilitatorCheck(ctx, state)
			if proposed {
				continue // next route sees the conclusion nomination
			}
			s.agentTurn(ctx, state)

		case NodeAgentTurn:
			s.agentTurn(ctx, state)
		}
	}
}

// initialState builds a fresh state or restores the latest checkpoint.
// Personas always come from the current configuration, not the snapshot.
func (s *Scheduler) initialState(ctx context.Context) (*types.ConversationState, error) {
	var state *types.ConversationState

	if s.resumeRunID != "" {
		cp, err := s.store.LoadLatest(ctx, s.resumeRunID)
		if err != nil {
			return nil, err
		}
		state = cp.State
		s.logger.Info("resuming from checkpoint",
			zap.String("run_id", s.resumeRunID),
			zap.Int("turn", cp.Turn),
		)
	} else {
		state = types.NewConversationState(
			uuid.New().String(),
			s.cfg.Run.Topic,
			s.roster,
			s.cfg.Run.MaxTurns,
		)
	}

	for _, a := range s.cfg.Agents {
		id := types.AgentID(a.Name)
		as := state.AgentStates[id]
		if as == nil {
			as = &types.AgentState{ID: id}
			state.AgentStates[id] = as
		}
		as.Persona = a.Persona
		as.SubjectiveView = s.cfg.SubjectiveView(a.Name)
	}
	return state, nil
}

// facilitatorCheck runs one moderation check and applies its outcome.
// It reports whether a conclusion was proposed.
func (s *Scheduler) facilitatorCheck(ctx context.Context, state *types.ConversationState) bool {
	action, msg := s.facilitator.Check(ctx, state)

	state.FacilitatorAction = action
	switch action {
	case types.FacilitatorProposeConclusion:
		state.NextSpeaker = types.SpeakerConclusion
	case types.FacilitatorIntervene:
		state.FacilitatorMessage = msg
	default:
		state.FacilitatorMessage = ""
	}

	s.logger.Info("facilitator check",
		zap.String("run_id", state.RunID),
		zap.Int("turn", state.CurrentTurn),
		zap.String("action", string(action)),
	)
	s.emit(types.Event{
		Type:   types.EventFacilitatorAction,
		RunID:  state.RunID,
		Turn:   state.CurrentTurn,
		Action: action,
		Text:   msg,
	})
	if s.collector != nil {
		s.collector.ObserveFacilitatorAction(string(action))
	}

	return action == types.FacilitatorProposeConclusion
}

// agentTurn runs one complete turn of the nominated speaker: decide,
// apply, measure, checkpoint. Decision failures degrade the turn instead
// of failing the run.
func (s *Scheduler) agentTurn(ctx context.Context, state *types.ConversationState) {
	speaker := types.AgentID(state.NextSpeaker)
	as := state.AgentStates[speaker]
	turn := state.CurrentTurn + 1
	ctx = types.WithTurn(types.WithAgent(ctx, speaker), turn)

	decision, degraded := s.decide(ctx, state, speaker, as, turn)
	if decision == nil {
		// Run cancelled mid-turn; the loop handles it at the boundary.
		return
	}

	// The facilitator message is consumed by exactly one turn.
	state.FacilitatorMessage = ""
	state.FacilitatorAction = ""

	utterance := types.Utterance{
		Turn:     turn,
		Agent:    speaker,
		Text:     decision.Response,
		Degraded: degraded,
		At:       time.Now(),
	}
	state.Transcript = append(state.Transcript, utterance)
	state.CurrentTurn = turn
	as.LastDecision = decision
	state.SetReady(speaker, decision.ReadyToConclude)
	for _, q := range decision.RaisedQuestions {
		state.AddQuestion(q)
	}
	for _, q := range decision.ResolvedQuestions {
		state.ResolveQuestion(q)
	}

	if s.roster.ValidSpeaker(decision.NextSpeaker) {
		state.NextSpeaker = decision.NextSpeaker
	} else {
		fallback := s.roster.After(speaker)
		s.logger.Warn("invalid next speaker, falling back to round-robin",
			zap.String("run_id", state.RunID),
			zap.String("agent", string(speaker)),
			zap.String("nominated", decision.NextSpeaker),
			zap.String("fallback", string(fallback)),
		)
		s.emit(types.Event{
			Type:  types.EventInvalidNextSpeaker,
			RunID: state.RunID,
			Turn:  turn,
			Agent: speaker,
			Text:  decision.NextSpeaker,
		})
		state.NextSpeaker = string(fallback)
	}

	s.emit(types.Event{
		Type:     types.EventAgentMessageComplete,
		RunID:    state.RunID,
		Turn:     turn,
		Agent:    speaker,
		Text:     decision.Response,
		Degraded: degraded,
	})
	if s.collector != nil {
		s.collector.ObserveTurn(string(speaker), degraded)
	}

	s.updateMetrics(ctx, state, turn, decision.Response, degraded)
	s.saveCheckpoint(ctx, state)
}

// decide obtains the agent's decision, streaming chunks out as they
// arrive. On terminal failure it substitutes the emergency decision with a
// round-robin nomination.
func (s *Scheduler) decide(ctx context.Context, state *types.ConversationState, speaker types.AgentID, as *types.AgentState, turn int) (*types.AgentDecision, bool) {
	req := &gateway.DecideRequest{
		Agent:              speaker,
		Topic:              state.Topic,
		Roster:             state.Agents,
		History:            state.Transcript,
		FacilitatorMessage: state.FacilitatorMessage,
		PendingQuestions:   state.PendingQuestions,
	}
	if as != nil {
		req.Persona = as.Persona
		req.SubjectiveView = as.SubjectiveView
	}

	stream, err := s.gw.Decide(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		return s.degrade(state, speaker, turn, err)
	}

	for {
		delta, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			return s.degrade(state, speaker, turn, err)
		}
		if delta.Decision != nil {
			return delta.Decision, false
		}
		s.emit(types.Event{
			Type:  types.EventAgentMessageChunk,
			RunID: state.RunID,
			Turn:  turn,
			Agent: speaker,
			Chunk: delta.Chunk,
		})
	}
}

// degrade records the decision failure and produces the emergency
// decision: a placeholder statement and the next roster member.
func (s *Scheduler) degrade(state *types.ConversationState, speaker types.AgentID, turn int, cause error) (*types.AgentDecision, bool) {
	s.logger.Error("agent decision unavailable, degrading turn",
		zap.String("run_id", state.RunID),
		zap.String("agent", string(speaker)),
		zap.Int("turn", turn),
		zap.Error(cause),
	)

	var terr *types.Error
	if e, ok := cause.(*types.Error); ok {
		terr = e
	} else {
		terr = types.NewError(types.ErrDecisionUnavailable, "agent decision could not be obtained").
			WithAgent(speaker).WithCause(cause)
	}
	s.emit(types.Event{
		Type:     types.EventTurnDegraded,
		RunID:    state.RunID,
		Turn:     turn,
		Agent:    speaker,
		Degraded: true,
		Err:      terr,
	})

	return &types.AgentDecision{
		Response:    degradedUtterance,
		NextSpeaker: string(s.roster.After(speaker)),
	}, true
}

// updateMetrics recomputes the run metrics after a turn. Embedding
// failures only cost this turn's convergence sample.
func (s *Scheduler) updateMetrics(ctx context.Context, state *types.ConversationState, turn int, text string, degraded bool) {
	sampled := false
	if !degraded {
		vec, err := s.gw.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("embedding failed, skipping convergence sample",
				zap.String("run_id", state.RunID),
				zap.Int("turn", turn),
				zap.Error(err),
			)
		} else {
			state.StatementEmbeddings = append(state.StatementEmbeddings, vec)
			sampled = true
		}
	}

	if sampled {
		state.ConvergenceScore = metrics.Convergence(state.StatementEmbeddings)
	} else {
		// Without this turn's sample the trailing embedding pair no longer
		// describes the two latest utterances; the score resets rather than
		// letting a stale value trip the conclusion gate.
		state.ConvergenceScore = 0
	}
	state.DiscussionDepth = metrics.Depth(state.CurrentTurn, len(state.PendingQuestions))

	snap := metrics.Snapshot(state)
	s.emit(types.Event{
		Type:    types.EventMetricsUpdate,
		RunID:   state.RunID,
		Turn:    turn,
		Metrics: &snap,
	})
	if s.collector != nil {
		s.collector.SetRunMetrics(snap.Convergence, snap.Depth, snap.ReadyRatio)
	}
}

// saveCheckpoint persists the state after a turn; failures are logged and
// tolerated so persistence trouble never stops a debate.
func (s *Scheduler) saveCheckpoint(ctx context.Context, state *types.ConversationState) {
	if s.store == nil {
		return
	}
	err := s.store.Save(ctx, &checkpoint.Checkpoint{
		RunID: state.RunID,
		Turn:  state.CurrentTurn,
		State: state,
	})
	if err != nil {
		s.logger.Warn("checkpoint save failed",
			zap.String("run_id", state.RunID),
			zap.Int("turn", state.CurrentTurn),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) emit(ev types.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	// The stream is terminal at conclusion_complete or run_error; those two
	// must reach the consumer even when the buffer is full. Everything else
	// is best effort and drops on lag.
	if ev.Type == types.EventConclusionComplete || ev.Type == types.EventRunError {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event buffer full, dropping event", zap.String("type", string(ev.Type)))
	}
}

func (s *Scheduler) emitError(state *types.ConversationState, err error) {
	terr, ok := err.(*types.Error)
	if !ok {
		terr = types.NewError(types.ErrDecisionUnavailable, err.Error())
	}
	s.emit(types.Event{
		Type:  types.EventRunError,
		RunID: state.RunID,
		Turn:  state.CurrentTurn,
		Err:   terr,
	})
}

func (s *Scheduler) observeRun(outcome string, started time.Time) {
	if s.collector == nil {
		return
	}
	s.collector.ObserveRun(outcome, time.Since(started))
}
