package llm

import (
	"chatgpt-ui-server/backend/internal/models"
)

// Preamble is the fixed system instruction prepended to every built context
const Preamble = "You are a helpful assistant."

// Counter computes the token cost of a message list for a model.
// Satisfied by CountTokens; a func type so tests can substitute a
// deterministic stand-in.
type Counter func(messages []ChatMessage, model string) (int, error)

// ContextBuilder selects the token-bounded window of conversation
// history that is sent upstream.
type ContextBuilder struct {
	profile ModelProfile
	count   Counter
}

// NewContextBuilder returns a builder for the given model profile
func NewContextBuilder(profile ModelProfile) *ContextBuilder {
	return &ContextBuilder{profile: profile, count: CountTokens}
}

// NewContextBuilderWithCounter is NewContextBuilder with a custom token counter
func NewContextBuilderWithCounter(profile ModelProfile, count Counter) *ContextBuilder {
	return &ContextBuilder{profile: profile, count: count}
}

// Build walks history (ordered oldest to newest) from the newest message
// backwards and keeps the most recent messages whose cumulative cost,
// together with the preamble, stays within the prompt ceiling. The
// returned list starts with the preamble and is in chronological order,
// and its total token cost never exceeds MaxPromptTokens.
//
// Each candidate's cost is recomputed over the whole prefix rather than
// tracked incrementally; the tokenizer is not strictly additive across
// messages (name-field elision), and the prefix recount keeps the budget
// check exact.
//
// If the single newest message does not fit on its own, Build fails with
// PromptTooLongError rather than truncate inside a message.
func (b *ContextBuilder) Build(history []models.Message) ([]ChatMessage, int, error) {
	system := []ChatMessage{{Role: RoleSystem, Content: Preamble}}

	currentTokens, err := b.count(system, b.profile.Name)
	if err != nil {
		return nil, 0, err
	}

	maxTokens := b.profile.MaxPromptTokens
	var selected []ChatMessage

	for i := len(history) - 1; i >= 0 && currentTokens < maxTokens; i-- {
		msg := history[i]
		role := RoleUser
		if msg.IsBot {
			role = RoleAssistant
		}
		candidate := ChatMessage{Role: role, Content: msg.Content}

		window := make([]ChatMessage, 0, len(system)+len(selected)+1)
		window = append(window, system...)
		window = append(window, selected...)
		window = append(window, candidate)

		newTokens, err := b.count(window, b.profile.Name)
		if err != nil {
			return nil, 0, err
		}
		if newTokens > maxTokens {
			if len(selected) > 0 {
				break
			}
			return nil, 0, &PromptTooLongError{MaxTokens: maxTokens, PromptTokens: newTokens}
		}

		selected = append([]ChatMessage{candidate}, selected...)
		currentTokens = newTokens
	}

	return append(system, selected...), currentTokens, nil
}
