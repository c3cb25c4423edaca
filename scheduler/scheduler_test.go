package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/checkpoint"
	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	"github.com/BaSui01/debateflow/types"
)

// memStore is an in-memory checkpoint.Store for scheduler tests.
type memStore struct {
	mu    sync.Mutex
	saves []*checkpoint.Checkpoint
}

func (m *memStore) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, cp)
	return nil
}

func (m *memStore) LoadLatest(_ context.Context, runID string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saves) - 1; i >= 0; i-- {
		if m.saves[i].RunID == runID {
			return m.saves[i], nil
		}
	}
	return nil, types.NewError(types.ErrCheckpointNotFound, "no checkpoints for run "+runID)
}

func (m *memStore) List(_ context.Context, runID string, limit int) ([]*checkpoint.Checkpoint, error) {
	return nil, nil
}

func (m *memStore) DeleteRun(_ context.Context, runID string) error { return nil }
func (m *memStore) Close() error                                    { return nil }

func drainEvents(s *Scheduler) []types.Event {
	var out []types.Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []types.Event) []types.EventType {
	out := make([]types.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countType(events []types.Event, t types.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestNew_InvalidConfigIsFatal(t *testing.T) {
	cfg := config.DefaultConfig() // no topic, no agents
	_, err := New(cfg, &fakeGateway{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestNew_ResumeRequiresStore(t *testing.T) {
	cfg := testConfig(t, "sato")
	_, err := New(cfg, &fakeGateway{}, zap.NewNop(), WithResume("run-1"))
	require.Error(t, err)
}

func TestRun_SingleTurnToConclusion(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 1

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			assert.Equal(t, types.AgentID("sato"), req.Agent, "first configured agent opens")
			assert.Equal(t, "persona of sato", req.Persona)
			return decisionStream(&types.AgentDecision{
				Response:    "my opening view",
				NextSpeaker: "suzuki",
			}, "my opening", " view"), nil
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	events := drainEvents(s)

	require.Len(t, state.Transcript, 1)
	assert.Equal(t, "my opening view", state.Transcript[0].Text)
	assert.Equal(t, 1, state.CurrentTurn)
	require.NotNil(t, state.Conclusion)
	assert.NotEmpty(t, state.Conclusion.Final)

	assert.Equal(t, 2, countType(events, types.EventAgentMessageChunk))
	assert.Equal(t, 1, countType(events, types.EventAgentMessageComplete))
	assert.Equal(t, 1, countType(events, types.EventMetricsUpdate))
	assert.Equal(t, 1, countType(events, types.EventDraftConclusion))
	assert.Equal(t, 1, countType(events, types.EventConclusionComplete))
	assert.Equal(t, types.EventConclusionComplete, events[len(events)-1].Type,
		"conclusion_complete is terminal: %v", eventTypes(events))
}

func TestRun_InvalidNextSpeakerFallsBackRoundRobin(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 2

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			if req.Agent == "sato" {
				return decisionStream(&types.AgentDecision{
					Response:    "statement",
					NextSpeaker: "ghost", // not on the roster
				}), nil
			}
			return decisionStream(&types.AgentDecision{
				Response:    "reply",
				NextSpeaker: types.SpeakerConclusion,
			}), nil
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	events := drainEvents(s)

	require.Len(t, state.Transcript, 2)
	assert.Equal(t, types.AgentID("suzuki"), state.Transcript[1].Agent,
		"round-robin fallback picks the next roster member")

	require.Equal(t, 1, countType(events, types.EventInvalidNextSpeaker))
	for _, ev := range events {
		if ev.Type == types.EventInvalidNextSpeaker {
			assert.Equal(t, types.AgentID("sato"), ev.Agent)
			assert.Equal(t, "ghost", ev.Text)
		}
	}
}

func TestRun_DegradedTurnAdvancesDebate(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 2

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			if req.Agent == "sato" {
				return nil, types.NewError(types.ErrDecisionUnavailable, "exhausted").WithAgent("sato")
			}
			return decisionStream(&types.AgentDecision{
				Response:    "carrying on",
				NextSpeaker: types.SpeakerConclusion,
			}), nil
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	events := drainEvents(s)

	require.Len(t, state.Transcript, 2)
	assert.True(t, state.Transcript[0].Degraded)
	assert.Equal(t, degradedUtterance, state.Transcript[0].Text)
	assert.Equal(t, types.AgentID("suzuki"), state.Transcript[1].Agent,
		"degraded turn nominates round-robin")
	assert.False(t, state.Transcript[1].Degraded)
	assert.Equal(t, 1, countType(events, types.EventTurnDegraded))
	require.NotNil(t, state.Conclusion)
}

func TestRun_PendingQuestionsSuppressFacilitator(t *testing.T) {
	run := func(raiseQuestion bool) []types.Event {
		cfg := testConfig(t, "sato", "suzuki")
		cfg.Run.MaxTurns = 3
		cfg.Run.FacilitatorCheckInterval = 1

		gw := &fakeGateway{
			decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
				d := &types.AgentDecision{
					Response:    "statement",
					NextSpeaker: "suzuki",
				}
				if req.Agent == "suzuki" {
					d.NextSpeaker = "sato"
				}
				if raiseQuestion && len(req.History) == 0 {
					d.RaisedQuestions = []string{"what about latency?"}
				}
				return decisionStream(d), nil
			},
		}

		s, err := New(cfg, gw, zap.NewNop())
		require.NoError(t, err)
		_, err = s.Run(context.Background())
		require.NoError(t, err)
		return drainEvents(s)
	}

	withQuestion := run(true)
	assert.Zero(t, countType(withQuestion, types.EventFacilitatorAction),
		"open questions must bypass facilitator checks")

	withoutQuestion := run(false)
	assert.Positive(t, countType(withoutQuestion, types.EventFacilitatorAction))
}

func TestRun_CheckpointsEveryTurnAndResumes(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 2

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			next := "suzuki"
			if req.Agent == "suzuki" {
				next = "sato"
			}
			return decisionStream(&types.AgentDecision{Response: "s", NextSpeaker: next}), nil
		},
	}

	store := &memStore{}
	s, err := New(cfg, gw, zap.NewNop(), WithCheckpointStore(store))
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	drainEvents(s)

	require.Len(t, store.saves, 2, "one checkpoint per completed turn")
	assert.Equal(t, 1, store.saves[0].Turn)
	assert.Equal(t, 2, store.saves[1].Turn)

	// Resume picks up the latest snapshot of the same run.
	s2, err := New(cfg, gw, zap.NewNop(),
		WithCheckpointStore(store), WithResume(state.RunID))
	require.NoError(t, err)

	resumed, err := s2.Run(context.Background())
	require.NoError(t, err)
	drainEvents(s2)

	assert.Equal(t, state.RunID, resumed.RunID)
	assert.GreaterOrEqual(t, resumed.CurrentTurn, 2)
	require.NotNil(t, resumed.Conclusion)
}

func TestRun_CancellationStopsAtTurnBoundary(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")

	ctx, cancel := context.WithCancel(context.Background())
	embeds := 0
	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			next := "suzuki"
			if req.Agent == "suzuki" {
				next = "sato"
			}
			return decisionStream(&types.AgentDecision{Response: "s", NextSpeaker: next}), nil
		},
		// Cancel while the second turn is wrapping up; the turn itself
		// must still land in the transcript.
		embed: func(context.Context, string) ([]float64, error) {
			embeds++
			if embeds == 2 {
				cancel()
			}
			return []float64{1, 0}, nil
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrRunCancelled, types.GetErrorCode(err))
	events := drainEvents(s)

	assert.Len(t, state.Transcript, 2, "the in-flight turn completes")
	assert.Nil(t, state.Conclusion)
	assert.Equal(t, types.EventRunError, events[len(events)-1].Type)
}

func TestRun_MetricGateTriggersConclusion(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 20
	cfg.Run.ConvergenceThreshold = 0.9
	cfg.Run.ReadyRatioThreshold = 0.5
	cfg.Run.DepthThreshold = 0.5

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			next := "suzuki"
			if req.Agent == "suzuki" {
				next = "sato"
			}
			return decisionStream(&types.AgentDecision{
				Response:        "same position as before",
				NextSpeaker:     next,
				ReadyToConclude: true,
			}), nil
		},
		// Identical embeddings give convergence 1.0 from the second turn on.
		embed: func(context.Context, string) ([]float64, error) {
			return []float64{0.5, 0.5, 0.5}, nil
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	drainEvents(s)

	require.NotNil(t, state.Conclusion)
	assert.Less(t, state.CurrentTurn, 20, "metric gate concluded before the turn cap")
	assert.InDelta(t, 1.0, state.ConvergenceScore, 1e-9)
}

func TestRun_EmbeddingFailureOnlySkipsSample(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 2

	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			next := "suzuki"
			if req.Agent == "suzuki" {
				next = "sato"
			}
			return decisionStream(&types.AgentDecision{Response: "s", NextSpeaker: next}), nil
		},
		embed: func(context.Context, string) ([]float64, error) {
			return nil, errors.New("embedding api down")
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	drainEvents(s)

	assert.Len(t, state.Transcript, 2)
	assert.Empty(t, state.StatementEmbeddings)
	assert.Zero(t, state.ConvergenceScore)
	require.NotNil(t, state.Conclusion)
}

func TestRun_EmbeddingFailureResetsConvergence(t *testing.T) {
	cfg := testConfig(t, "sato", "suzuki")
	cfg.Run.MaxTurns = 3

	embeds := 0
	gw := &fakeGateway{
		decide: func(_ context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
			next := "suzuki"
			if req.Agent == "suzuki" {
				next = "sato"
			}
			return decisionStream(&types.AgentDecision{Response: "s", NextSpeaker: next}), nil
		},
		// Two identical samples push convergence to 1.0, then the third
		// embedding fails.
		embed: func(context.Context, string) ([]float64, error) {
			embeds++
			if embeds <= 2 {
				return []float64{1, 0}, nil
			}
			return nil, errors.New("embedding api down")
		},
	}

	s, err := New(cfg, gw, zap.NewNop())
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	drainEvents(s)

	assert.Len(t, state.Transcript, 3)
	assert.Len(t, state.StatementEmbeddings, 2)
	assert.Zero(t, state.ConvergenceScore,
		"the trailing pair's similarity must not survive a missing sample")
}

func TestEmit_TerminalEventNeverDropped(t *testing.T) {
	s := &Scheduler{
		events: make(chan types.Event, 1),
		logger: zap.NewNop(),
	}

	s.emit(types.Event{Type: types.EventMetricsUpdate})
	s.emit(types.Event{Type: types.EventAgentMessageChunk}) // buffer full, dropped

	delivered := make(chan struct{})
	go func() {
		s.emit(types.Event{Type: types.EventConclusionComplete})
		close(delivered)
	}()

	assert.Equal(t, types.EventMetricsUpdate, (<-s.events).Type)
	assert.Equal(t, types.EventConclusionComplete, (<-s.events).Type)
	<-delivered
}
