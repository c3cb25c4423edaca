package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	"github.com/BaSui01/debateflow/types"
)

// fakeGateway scripts gateway behavior per test.
type fakeGateway struct {
	decide   func(ctx context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error)
	complete func(ctx context.Context, prompt string) (string, error)
	embed    func(ctx context.Context, text string) ([]float64, error)
}

func (f *fakeGateway) Decide(ctx context.Context, req *gateway.DecideRequest) (*gateway.DecisionStream, error) {
	if f.decide == nil {
		return gateway.NewDecisionStream([]gateway.StreamDelta{
			{Decision: &types.AgentDecision{Response: "ok", NextSpeaker: types.SpeakerConclusion}},
		}, nil), nil
	}
	return f.decide(ctx, req)
}

func (f *fakeGateway) Complete(ctx context.Context, prompt string) (string, error) {
	if f.complete == nil {
		return "completion", nil
	}
	return f.complete(ctx, prompt)
}

func (f *fakeGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.embed == nil {
		return []float64{1, 0, 0}, nil
	}
	return f.embed(ctx, text)
}

// decisionStream wraps a terminal decision, optionally preceded by chunks.
func decisionStream(decision *types.AgentDecision, chunks ...string) *gateway.DecisionStream {
	deltas := make([]gateway.StreamDelta, 0, len(chunks)+1)
	for _, c := range chunks {
		deltas = append(deltas, gateway.StreamDelta{Chunk: c})
	}
	deltas = append(deltas, gateway.StreamDelta{Decision: decision})
	return gateway.NewDecisionStream(deltas, nil)
}

func testConfig(t *testing.T, agents ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Run.Topic = "test topic"
	for _, name := range agents {
		cfg.Agents = append(cfg.Agents, config.AgentConfig{
			Name:    name,
			Persona: "persona of " + name,
		})
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func testRoster(t *testing.T, agents ...string) *types.Roster {
	t.Helper()
	ids := make([]types.AgentID, len(agents))
	for i, a := range agents {
		ids[i] = types.AgentID(a)
	}
	roster, err := types.NewRoster(ids)
	require.NoError(t, err)
	return roster
}
