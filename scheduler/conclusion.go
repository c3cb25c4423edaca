package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/debateflow/gateway"
	"github.com/BaSui01/debateflow/types"
)

const draftPromptTemplate = `The following debate on the topic "%s" has ended.

Transcript:
%s

Write a draft conclusion: summarize the positions that emerged, the points
of agreement and disagreement, and the answer the group converged on, if
any. Write it as a neutral rapporteur.`

const peerCommentPromptTemplate = `%s

You took part in a debate on the topic "%s". A draft conclusion has been
written:

%s

In a few sentences, comment on the draft from your own perspective: what it
captures well, what it misses or misrepresents. Stay in character.`

const synthesisPromptTemplate = `A debate on the topic "%s" produced this draft conclusion:

%s

The participants reviewed the draft and commented:
%s

Produce the final conclusion: revise the draft so it incorporates the
legitimate corrections from the comments while staying concise and neutral.
Output only the final conclusion text.`

// ConclusionRunner drives the three-stage conclusion pipeline: draft, a
// bounded concurrent round of peer comments, and a single synthesis pass.
type ConclusionRunner struct {
	gw            gateway.Gateway
	maxConcurrent int64
	logger        *zap.Logger
}

func NewConclusionRunner(gw gateway.Gateway, maxConcurrent int, logger *zap.Logger) *ConclusionRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConclusionRunner{
		gw:            gw,
		maxConcurrent: int64(maxConcurrent),
		logger:        logger.With(zap.String("component", "conclusion")),
	}
}

// Run executes the pipeline. Individual peer-comment failures are recorded
// and tolerated; a draft failure aborts the pipeline, and a synthesis
// failure falls back to the draft so a run always ends with a conclusion.
// The emit callback receives progress events and may be nil.
func (r *ConclusionRunner) Run(ctx context.Context, state *types.ConversationState, emit func(types.Event)) (*types.ConclusionResult, error) {
	if emit == nil {
		emit = func(types.Event) {}
	}

	draft, err := r.gw.Complete(ctx, fmt.Sprintf(draftPromptTemplate, state.Topic, state.TranscriptText()))
	if err != nil {
		return nil, types.NewError(types.ErrConclusionIncomplete, "draft conclusion failed").WithCause(err)
	}
	draft = strings.TrimSpace(draft)
	emit(types.Event{Type: types.EventDraftConclusion, RunID: state.RunID, Text: draft})

	result := &types.ConclusionResult{
		Draft:        draft,
		PeerComments: make(map[types.AgentID]string),
		Failed:       make(map[types.AgentID]string),
	}

	r.gatherComments(ctx, state, result, emit)

	final, err := r.gw.Complete(ctx, fmt.Sprintf(synthesisPromptTemplate,
		state.Topic, draft, renderComments(result.PeerComments)))
	if err != nil {
		r.logger.Warn("synthesis failed, falling back to draft",
			zap.String("run_id", state.RunID),
			zap.Error(err),
		)
		result.Final = draft
	} else {
		result.Final = strings.TrimSpace(final)
	}

	emit(types.Event{Type: types.EventConclusionComplete, RunID: state.RunID, Text: result.Final})
	return result, nil
}

// gatherComments fans out one comment request per agent, bounded by the
// concurrency limit. Results are keyed by agent identity, never by
// completion order; failures land in result.Failed.
func (r *ConclusionRunner) gatherComments(ctx context.Context, state *types.ConversationState, result *types.ConclusionResult, emit func(types.Event)) {
	sem := semaphore.NewWeighted(r.maxConcurrent)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, id := range state.Agents {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed[id] = err.Error()
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(id types.AgentID) {
			defer wg.Done()
			defer sem.Release(1)

			persona := ""
			if as := state.AgentStates[id]; as != nil {
				persona = as.Persona
			}
			prompt := fmt.Sprintf(peerCommentPromptTemplate, persona, state.Topic, result.Draft)

			comment, err := r.gw.Complete(ctx, prompt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("peer comment failed",
					zap.String("run_id", state.RunID),
					zap.String("agent", string(id)),
					zap.Error(err),
				)
				result.Failed[id] = err.Error()
				return
			}
			result.PeerComments[id] = strings.TrimSpace(comment)
			emit(types.Event{
				Type:  types.EventPeerComment,
				RunID: state.RunID,
				Agent: id,
				Text:  result.PeerComments[id],
			})
		}(id)
	}

	wg.Wait()
}

// renderComments lists the gathered comments in stable agent order.
func renderComments(comments map[types.AgentID]string) string {
	if len(comments) == 0 {
		return "(no comments were gathered)"
	}
	ids := make([]string, 0, len(comments))
	for id := range comments {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", id, comments[types.AgentID(id)])
	}
	return b.String()
}
