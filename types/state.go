package types

import (
	"fmt"
	"sort"
	"time"
)

// AgentID identifies one debate participant.
type AgentID string

// SpeakerConclusion is the sentinel next-speaker value that requests the
// conclusion pipeline instead of another agent turn.
const SpeakerConclusion = "Conclusion"

// Roster is the closed set of valid speakers for one run. It is built once
// at configuration-load time from the configured agents plus the
// SpeakerConclusion sentinel; every decision's next-speaker choice is
// validated against it at the boundary. Insertion order doubles as the
// round-robin tie-break order.
type Roster struct {
	ids   []AgentID
	index map[AgentID]int
}

// NewRoster builds a roster from an ordered agent list.
// The list must be non-empty and free of duplicates; an agent must not be
// named like the conclusion sentinel.
func NewRoster(ids []AgentID) (*Roster, error) {
	if len(ids) == 0 {
		return nil, NewError(ErrEmptyRoster, "roster must contain at least one agent")
	}
	index := make(map[AgentID]int, len(ids))
	for i, id := range ids {
		if id == "" {
			return nil, NewError(ErrInvalidConfig, "agent id must not be empty")
		}
		if string(id) == SpeakerConclusion {
			return nil, NewError(ErrInvalidConfig,
				fmt.Sprintf("agent id %q collides with the conclusion sentinel", id))
		}
		if _, dup := index[id]; dup {
			return nil, NewError(ErrInvalidConfig, fmt.Sprintf("duplicate agent id %q", id))
		}
		index[id] = i
	}
	out := make([]AgentID, len(ids))
	copy(out, ids)
	return &Roster{ids: out, index: index}, nil
}

// IDs returns the roster members in insertion order.
func (r *Roster) IDs() []AgentID {
	out := make([]AgentID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of roster members.
func (r *Roster) Len() int { return len(r.ids) }

// Contains reports whether id is a roster member.
func (r *Roster) Contains(id AgentID) bool {
	_, ok := r.index[id]
	return ok
}

// IndexOf returns the roster position of id, or -1.
func (r *Roster) IndexOf(id AgentID) int {
	i, ok := r.index[id]
	if !ok {
		return -1
	}
	return i
}

// After returns the roster member following id in insertion order, wrapping
// around at the end. When id is not a member the first agent is returned;
// this is the deterministic fallback for an invalid next-speaker nomination.
func (r *Roster) After(id AgentID) AgentID {
	i, ok := r.index[id]
	if !ok {
		return r.ids[0]
	}
	return r.ids[(i+1)%len(r.ids)]
}

// ValidSpeaker reports whether s is a roster member or the conclusion
// sentinel.
func (r *Roster) ValidSpeaker(s string) bool {
	if s == SpeakerConclusion {
		return true
	}
	return r.Contains(AgentID(s))
}

// AgentDecision is the structured output of one agent turn.
type AgentDecision struct {
	Thoughts          string   `json:"thoughts"`
	Response          string   `json:"response"`
	NextSpeaker       string   `json:"next_speaker"`
	ReadyToConclude   bool     `json:"ready_to_conclude"`
	RaisedQuestions   []string `json:"raised_questions,omitempty"`
	ResolvedQuestions []string `json:"resolved_questions,omitempty"`
}

// AgentState holds per-agent identity and the agent's last decision. The
// persona and subjective view are opaque to the scheduler; they are only
// forwarded to the gateway when building the agent's prompt.
type AgentState struct {
	ID             AgentID        `json:"id"`
	Persona        string         `json:"persona"`
	SubjectiveView string         `json:"subjective_view,omitempty"`
	LastDecision   *AgentDecision `json:"last_decision,omitempty"`
}

// Utterance is one completed statement in the transcript.
type Utterance struct {
	Turn     int       `json:"turn"`
	Agent    AgentID   `json:"agent"`
	Text     string    `json:"text"`
	Degraded bool      `json:"degraded,omitempty"`
	At       time.Time `json:"at"`
}

// String renders the transcript form "[Turn N] agent: text".
func (u Utterance) String() string {
	return fmt.Sprintf("[Turn %d] %s: %s", u.Turn, u.Agent, u.Text)
}

// FacilitatorAction is the outcome of one facilitator check.
type FacilitatorAction string

const (
	FacilitatorContinue          FacilitatorAction = "continue"
	FacilitatorIntervene         FacilitatorAction = "intervene"
	FacilitatorProposeConclusion FacilitatorAction = "propose_conclusion"
)

// ConclusionResult is the artifact of the conclusion pipeline.
type ConclusionResult struct {
	Draft        string              `json:"draft"`
	PeerComments map[AgentID]string  `json:"peer_comments"`
	Failed       map[AgentID]string  `json:"failed_comments,omitempty"` // agent -> error text
	Final        string              `json:"final"`
}

// ConversationState is the single mutable state of one debate run. The
// scheduler is its only mutator; every other component reads a snapshot and
// feeds mutations back through the scheduler.
type ConversationState struct {
	RunID  string    `json:"run_id"`
	Topic  string    `json:"topic"`
	Agents []AgentID `json:"agents"` // fixed roster order

	AgentStates map[AgentID]*AgentState `json:"agent_states"`

	// NextSpeaker is a roster member or SpeakerConclusion.
	NextSpeaker string `json:"next_speaker"`

	CurrentTurn int `json:"current_turn"`
	MaxTurns    int `json:"max_turns"`

	ConvergenceScore    float64     `json:"convergence_score"`
	ReadyFlags          []bool      `json:"ready_flags"` // one slot per roster member
	StatementEmbeddings [][]float64 `json:"statement_embeddings"`
	DiscussionDepth     float64     `json:"discussion_depth"`

	// PendingQuestions holds open questions in sorted order; set semantics
	// are maintained by AddQuestion/ResolveQuestion.
	PendingQuestions []string `json:"pending_questions"`

	FacilitatorAction  FacilitatorAction `json:"facilitator_action,omitempty"`
	FacilitatorMessage string            `json:"facilitator_message,omitempty"`

	Transcript []Utterance       `json:"transcript"`
	Conclusion *ConclusionResult `json:"conclusion,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// NewConversationState initializes the run state. The first configured agent
// opens the debate.
func NewConversationState(runID, topic string, roster *Roster, maxTurns int) *ConversationState {
	ids := roster.IDs()
	states := make(map[AgentID]*AgentState, len(ids))
	for _, id := range ids {
		states[id] = &AgentState{ID: id}
	}
	return &ConversationState{
		RunID:       runID,
		Topic:       topic,
		Agents:      ids,
		AgentStates: states,
		NextSpeaker: string(ids[0]),
		MaxTurns:    maxTurns,
		ReadyFlags:  make([]bool, len(ids)),
		StartedAt:   time.Now(),
	}
}

// AddQuestion records an open question. Duplicates are ignored.
func (s *ConversationState) AddQuestion(q string) {
	if q == "" {
		return
	}
	for _, existing := range s.PendingQuestions {
		if existing == q {
			return
		}
	}
	s.PendingQuestions = append(s.PendingQuestions, q)
	sort.Strings(s.PendingQuestions)
}

// ResolveQuestion removes a question from the pending set if present.
func (s *ConversationState) ResolveQuestion(q string) {
	for i, existing := range s.PendingQuestions {
		if existing == q {
			s.PendingQuestions = append(s.PendingQuestions[:i], s.PendingQuestions[i+1:]...)
			return
		}
	}
}

// HasPendingQuestions reports whether any raised question is still open.
func (s *ConversationState) HasPendingQuestions() bool {
	return len(s.PendingQuestions) > 0
}

// SetReady records agent's latest ready-to-conclude signal. Unknown agents
// are ignored; ReadyFlags length never changes after initialization.
func (s *ConversationState) SetReady(agent AgentID, ready bool) {
	for i, id := range s.Agents {
		if id == agent {
			s.ReadyFlags[i] = ready
			return
		}
	}
}

// LastUtterances returns up to n most recent transcript entries in
// chronological order.
func (s *ConversationState) LastUtterances(n int) []Utterance {
	if n <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	if n > len(s.Transcript) {
		n = len(s.Transcript)
	}
	return s.Transcript[len(s.Transcript)-n:]
}

// TranscriptText renders the full transcript, one utterance per line.
func (s *ConversationState) TranscriptText() string {
	out := ""
	for i, u := range s.Transcript {
		if i > 0 {
			out += "\n"
		}
		out += u.String()
	}
	return out
}
