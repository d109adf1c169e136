package llm

import "fmt"

// UnsupportedModelError is returned when token accounting rules are not
// known for a model. It is a hard stop: counting with the wrong rules
// would silently corrupt the window budget.
type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("token counting is not supported for model %q", e.Model)
}

// PromptTooLongError is returned when the newest message alone does not
// fit the prompt ceiling. There is no partial-message truncation.
type PromptTooLongError struct {
	MaxTokens    int
	PromptTokens int
}

func (e *PromptTooLongError) Error() string {
	return fmt.Sprintf("prompt is too long: max token count is %d, but prompt is %d tokens long", e.MaxTokens, e.PromptTokens)
}

// Overflow reports how many tokens over the ceiling the prompt was
func (e *PromptTooLongError) Overflow() int {
	return e.PromptTokens - e.MaxTokens
}
