/*
Package types provides the shared type definitions for debateflow.

types is the lowest-level public package and depends on no other
debateflow package. Everything shared across the scheduler, gateway,
metrics and checkpoint layers is defined here to avoid circular imports.

Core types:

  - ConversationState — the full mutable state of one debate run
  - AgentDecision     — a validated structured turn from one agent
  - Utterance         — one transcript entry
  - Roster            — the ordered set of participants
  - ConclusionResult  — draft, peer comments and final synthesis
  - Event             — one entry of the run's observable event stream
  - Error / ErrorCode — structured error taxonomy with retryability

Context propagation helpers (WithRunID, WithTurn, WithAgent) carry the
run's identity through blocking gateway calls for logging.
*/
package types
