// Package metrics computes the quantitative signals that drive routing and
// termination: semantic convergence, discussion depth, and readiness ratio.
// Every function here is a pure function of a ConversationState snapshot;
// the scheduler is the only writer of the resulting fields.
package metrics

import (
	"math"

	"github.com/BaSui01/debateflow/types"
)

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched or zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Convergence returns the similarity of the two most recent statement
// embeddings, clamped to [0,1]. It is 0 while fewer than two utterances
// exist.
func Convergence(embeddings [][]float64) float64 {
	if len(embeddings) < 2 {
		return 0
	}
	sim := CosineSimilarity(embeddings[len(embeddings)-1], embeddings[len(embeddings)-2])
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Depth returns answered/max(1, currentTurn), where answered is the number
// of turns minus the questions still open. It can decrease when questions
// are raised faster than they are resolved.
func Depth(currentTurn, pendingQuestions int) float64 {
	answered := currentTurn - pendingQuestions
	if answered < 0 {
		answered = 0
	}
	turns := currentTurn
	if turns < 1 {
		turns = 1
	}
	d := float64(answered) / float64(turns)
	if d > 1 {
		return 1
	}
	return d
}

// ReadyRatio returns count(true)/len(flags); 0 for an empty flag vector.
func ReadyRatio(flags []bool) float64 {
	if len(flags) == 0 {
		return 0
	}
	ready := 0
	for _, f := range flags {
		if f {
			ready++
		}
	}
	return float64(ready) / float64(len(flags))
}

// Snapshot computes all three metrics from a state snapshot.
func Snapshot(s *types.ConversationState) types.MetricsSnapshot {
	return types.MetricsSnapshot{
		Convergence: Convergence(s.StatementEmbeddings),
		Depth:       Depth(s.CurrentTurn, len(s.PendingQuestions)),
		ReadyRatio:  ReadyRatio(s.ReadyFlags),
	}
}
