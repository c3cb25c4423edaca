package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/debateflow/types"
)

const decideSystemTemplate = `**Your profile:**
%s

**Your subjective view of the other participants:**
%s

**Current discussion topic:**
%s

**Discussion rules:**
1. Stay in character: speak consistently with your persona and your view of the others. Keep statements short and conversational.
2. Deepen the discussion: do not simply agree. Offer a different angle, raise doubts, or push back where you genuinely disagree.
3. Nominate the next speaker at the end of every statement.

**Output rules:**
- Respond with a single JSON object and nothing else.
- "thoughts": your internal reasoning before speaking.
- "response": your statement in the discussion.
- "next_speaker": exactly one name from this list: %s. Nominate "Conclusion" only when you want the discussion to end.
- "ready_to_conclude": whether you think the discussion is ready to reach a conclusion.
- "raised_questions": new open questions your statement raises, if any.
- "resolved_questions": previously open questions your statement settles, if any.
- Generating any name outside the list above is strictly forbidden.`

const strictRepromptInstruction = `Your previous output could not be parsed. Respond again with ONLY a valid JSON object containing the fields "thoughts", "response", "next_speaker", "ready_to_conclude", "raised_questions", and "resolved_questions". Do not wrap the object in markdown fences or add any text around it.`

// promptBuilder assembles decide prompts and enforces the prompt token
// budget by dropping the oldest history first.
type promptBuilder struct {
	model  string
	budget int

	// counter overrides token counting in tests.
	counter func(string) int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newPromptBuilder(model string, budget int) *promptBuilder {
	return &promptBuilder{model: model, budget: budget}
}

// init lazily resolves the tiktoken encoding (may download data on first use).
func (p *promptBuilder) init() error {
	p.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(p.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			p.initErr = fmt.Errorf("init tiktoken encoding: %w", err)
			return
		}
		p.enc = enc
	})
	return p.initErr
}

// countTokens falls back to a bytes/4 estimate when the encoding is
// unavailable, so a tokenizer download failure never blocks a run.
func (p *promptBuilder) countTokens(text string) int {
	if p.counter != nil {
		return p.counter(text)
	}
	if err := p.init(); err != nil {
		return len(text) / 4
	}
	return len(p.enc.Encode(text, nil, nil))
}

// BuildDecide renders the system and user messages for one agent turn.
// History beyond the token budget is truncated oldest-first; the system
// message and the latest utterances always survive.
func (p *promptBuilder) BuildDecide(req *DecideRequest) (system, user string) {
	names := make([]string, 0, len(req.Roster)+1)
	for _, id := range req.Roster {
		names = append(names, string(id))
	}
	names = append(names, types.SpeakerConclusion)

	system = fmt.Sprintf(decideSystemTemplate,
		req.Persona, req.SubjectiveView, req.Topic, strings.Join(names, ", "))

	var b strings.Builder
	if len(req.PendingQuestions) > 0 {
		b.WriteString("Open questions in the discussion:\n")
		for _, q := range req.PendingQuestions {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if req.FacilitatorMessage != "" {
		b.WriteString("Facilitator note: ")
		b.WriteString(req.FacilitatorMessage)
		b.WriteString("\n\n")
	}

	history := req.History
	if p.budget > 0 {
		history = p.truncateHistory(req.History, p.countTokens(system)+p.countTokens(b.String()))
	}
	if len(history) == 0 {
		b.WriteString("The discussion has not started yet. You speak first.")
		return system, b.String()
	}

	b.WriteString("Conversation so far:\n")
	for _, u := range history {
		b.WriteString(u.String())
		b.WriteByte('\n')
	}
	b.WriteString("\nIt is your turn to speak.")
	return system, b.String()
}

// truncateHistory drops the oldest utterances until the remaining ones fit
// the budget left after reserved tokens. The newest utterance is always
// kept even when it alone exceeds the budget.
func (p *promptBuilder) truncateHistory(history []types.Utterance, reserved int) []types.Utterance {
	if p.budget <= 0 || len(history) == 0 {
		return history
	}
	remaining := p.budget - reserved

	kept := len(history)
	total := 0
	// Walk newest to oldest, keeping what fits.
	for i := len(history) - 1; i >= 0; i-- {
		cost := p.countTokens(history[i].String()) + 1
		if total+cost > remaining && i != len(history)-1 {
			break
		}
		total += cost
		kept = i
	}
	return history[kept:]
}
