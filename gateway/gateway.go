// Package gateway adapts a remote LLM service to the narrow contract the
// debate core consumes: structured per-turn decisions with streamed
// utterance text, free-form completions, and text embeddings. Retry,
// timeout, rate limiting, and schema validation all live on this side of
// the boundary; the scheduler only ever sees a decision or a terminal
// DECISION_UNAVAILABLE error.
package gateway

import (
	"context"
	"io"

	"github.com/BaSui01/debateflow/types"
)

// DecideRequest carries everything needed to prompt one agent turn.
type DecideRequest struct {
	Agent          types.AgentID
	Persona        string
	SubjectiveView string
	Topic          string
	// Roster is the full speaker list the agent may nominate from,
	// excluding the conclusion sentinel (which is always permitted).
	Roster []types.AgentID
	// History is the transcript visible to the agent, oldest first.
	History []types.Utterance
	// FacilitatorMessage, when set, is a moderator redirect the agent must
	// take into account this turn.
	FacilitatorMessage string
	// PendingQuestions lists the still-open questions of the debate.
	PendingQuestions []string
}

// StreamDelta is one increment of a decision stream: either a fragment of
// the utterance text being produced, or the terminal structured decision.
type StreamDelta struct {
	Chunk    string
	Decision *types.AgentDecision
}

// DecisionStream is a lazy, finite, non-restartable sequence of deltas.
// The terminal delta carries the decision; after it, Recv returns io.EOF.
type DecisionStream struct {
	ch   <-chan streamItem
	done bool
}

type streamItem struct {
	delta StreamDelta
	err   error
}

func newDecisionStream(ch <-chan streamItem) *DecisionStream {
	return &DecisionStream{ch: ch}
}

// NewDecisionStream builds a stream that replays the given deltas and then
// fails with err when it is non-nil. It exists for alternate Gateway
// implementations and tests; the HTTP client produces streams lazily.
func NewDecisionStream(deltas []StreamDelta, err error) *DecisionStream {
	ch := make(chan streamItem, len(deltas)+1)
	for _, d := range deltas {
		ch <- streamItem{delta: d}
	}
	if err != nil {
		ch <- streamItem{err: err}
	}
	close(ch)
	return newDecisionStream(ch)
}

// Recv returns the next delta. It returns io.EOF once the stream is
// exhausted, or the stream's error if production failed.
func (s *DecisionStream) Recv(ctx context.Context) (*StreamDelta, error) {
	if s.done {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		s.done = true
		return nil, ctx.Err()
	case item, ok := <-s.ch:
		if !ok {
			s.done = true
			return nil, io.EOF
		}
		if item.err != nil {
			s.done = true
			return nil, item.err
		}
		if item.delta.Decision != nil {
			// Terminal delta; subsequent Recv calls report EOF.
			s.done = true
		}
		return &item.delta, nil
	}
}

// Gateway is the LLM service contract consumed by the core.
type Gateway interface {
	// Decide runs one agent turn: it streams the utterance text as it is
	// produced and terminates with the validated structured decision.
	Decide(ctx context.Context, req *DecideRequest) (*DecisionStream, error)

	// Complete returns a single free-form completion for prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float64, error)
}
