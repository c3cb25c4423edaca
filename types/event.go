package types

import "time"

// EventType classifies the events a run emits for presentation layers.
type EventType string

const (
	EventAgentMessageChunk    EventType = "agent_message_chunk"
	EventAgentMessageComplete EventType = "agent_message_complete"
	EventMetricsUpdate        EventType = "metrics_update"
	EventFacilitatorAction    EventType = "facilitator_action"
	EventDraftConclusion      EventType = "draft_conclusion"
	EventPeerComment          EventType = "peer_comment"
	EventConclusionComplete   EventType = "conclusion_complete"
	EventTurnDegraded         EventType = "turn_degraded"
	EventInvalidNextSpeaker   EventType = "invalid_next_speaker"
	EventRunError             EventType = "run_error"
)

// MetricsSnapshot carries the three run metrics at one point in time.
type MetricsSnapshot struct {
	Convergence float64 `json:"convergence"`
	Depth       float64 `json:"depth"`
	ReadyRatio  float64 `json:"ready_ratio"`
}

// Event is one entry of the run's ordered, append-only event stream. The
// stream is terminal at EventConclusionComplete or EventRunError. Only the
// fields relevant to Type are populated.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id,omitempty"`
	Turn  int       `json:"turn,omitempty"`
	Agent AgentID   `json:"agent,omitempty"`

	// Chunk carries one streamed fragment for EventAgentMessageChunk.
	Chunk string `json:"chunk,omitempty"`
	// Text carries full content for message-complete, conclusions and
	// facilitator messages.
	Text string `json:"text,omitempty"`

	Metrics *MetricsSnapshot `json:"metrics,omitempty"`

	Action FacilitatorAction `json:"action,omitempty"`

	// Degraded marks output produced by the emergency fallback path.
	Degraded bool `json:"degraded,omitempty"`

	Err *Error `json:"error,omitempty"`

	At time.Time `json:"at"`
}
