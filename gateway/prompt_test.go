package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/debateflow/types"
)

func wordCounter(text string) int {
	return len(strings.Fields(text))
}

func TestBuildDecide_SystemPrompt(t *testing.T) {
	p := newPromptBuilder("gpt-4o-mini", 0)
	system, user := p.BuildDecide(&DecideRequest{
		Agent:          "sato",
		Persona:        "A pragmatic engineer.",
		SubjectiveView: "- suzuki: too optimistic",
		Topic:          "Should we rewrite the billing system?",
		Roster:         []types.AgentID{"sato", "suzuki", "tanaka"},
	})

	assert.Contains(t, system, "A pragmatic engineer.")
	assert.Contains(t, system, "Should we rewrite the billing system?")
	assert.Contains(t, system, "sato, suzuki, tanaka, Conclusion")
	assert.Contains(t, user, "You speak first")
}

func TestBuildDecide_HistoryAndFacilitator(t *testing.T) {
	p := newPromptBuilder("gpt-4o-mini", 0)
	_, user := p.BuildDecide(&DecideRequest{
		Agent:  "suzuki",
		Topic:  "t",
		Roster: []types.AgentID{"sato", "suzuki"},
		History: []types.Utterance{
			{Turn: 1, Agent: "sato", Text: "Let's start."},
			{Turn: 2, Agent: "suzuki", Text: "Agreed."},
		},
		FacilitatorMessage: "Please address the cost question directly.",
		PendingQuestions:   []string{"What does migration cost?"},
	})

	assert.Contains(t, user, "[Turn 1] sato: Let's start.")
	assert.Contains(t, user, "[Turn 2] suzuki: Agreed.")
	assert.Contains(t, user, "Facilitator note: Please address the cost question directly.")
	assert.Contains(t, user, "- What does migration cost?")
	assert.True(t, strings.Index(user, "Facilitator note") < strings.Index(user, "Conversation so far"),
		"facilitator note should precede the transcript")
}

func TestTruncateHistory_DropsOldestFirst(t *testing.T) {
	p := newPromptBuilder("gpt-4o-mini", 20)
	p.counter = wordCounter

	history := []types.Utterance{
		{Turn: 1, Agent: "a", Text: "one two three four five"},
		{Turn: 2, Agent: "b", Text: "six seven eight nine ten"},
		{Turn: 3, Agent: "c", Text: "eleven twelve"},
	}

	kept := p.truncateHistory(history, 10)
	require.NotEmpty(t, kept)
	assert.Equal(t, 3, kept[len(kept)-1].Turn, "newest utterance always kept")
	assert.NotEqual(t, 1, kept[0].Turn, "oldest utterance dropped first")
}

func TestTruncateHistory_NewestSurvivesOversizedBudget(t *testing.T) {
	p := newPromptBuilder("gpt-4o-mini", 1)
	p.counter = wordCounter

	history := []types.Utterance{
		{Turn: 1, Agent: "a", Text: "a very long opening statement indeed"},
		{Turn: 2, Agent: "b", Text: "an equally long closing statement here"},
	}

	kept := p.truncateHistory(history, 0)
	require.Len(t, kept, 1)
	assert.Equal(t, 2, kept[0].Turn)
}

func TestTruncateHistory_ZeroBudgetKeepsAll(t *testing.T) {
	p := newPromptBuilder("gpt-4o-mini", 0)
	history := []types.Utterance{{Turn: 1, Agent: "a", Text: "x"}}
	assert.Len(t, p.truncateHistory(history, 0), 1)
}
