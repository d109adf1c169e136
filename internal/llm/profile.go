package llm

// Roles used in chat completion messages
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role/content pair sent to the model. Name is the
// optional per-message name field; when present the role token is elided
// by the upstream tokenizer.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ModelProfile describes the token budget of a model. The prompt ceiling
// and the response reservation never add up to more than MaxTokens.
type ModelProfile struct {
	Name              string
	MaxTokens         int
	MaxPromptTokens   int
	MaxResponseTokens int
}

// DefaultProfile returns the profile of the model currently served
func DefaultProfile() ModelProfile {
	return ModelProfile{
		Name:              "gpt-3.5-turbo",
		MaxTokens:         4096,
		MaxPromptTokens:   3096,
		MaxResponseTokens: 1000,
	}
}

// ResponseBudget returns the max_tokens value for a completion request
// given the token cost of the built prompt.
func (p ModelProfile) ResponseBudget(promptTokens int) int {
	budget := p.MaxTokens - promptTokens
	if budget > p.MaxResponseTokens {
		budget = p.MaxResponseTokens
	}
	return budget
}
