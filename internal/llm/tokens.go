package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message framing overhead and reply priming, as counted by the
// upstream tokenizer: every message follows
// <im_start>{role/name}\n{content}<im_end>\n and every reply is primed
// with <im_start>assistant.
const (
	tokensPerMessage = 4
	tokensPerReply   = 2
)

const fallbackEncoding = "cl100k_base"

// Models whose per-message accounting rules are known. Future models may
// deviate from the gpt-3.5-turbo framing and need explicit support.
var supportedModels = map[string]bool{
	"gpt-3.5-turbo":      true,
	"gpt-3.5-turbo-0301": true,
}

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model name for the encoder registry; the general
		// purpose encoding is what these models use anyway.
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	encodingCache[model] = enc
	return enc, nil
}

// CountTokens returns the token cost of a message list for the given
// model, matching the upstream tokenizer's arithmetic. Identical inputs
// always yield identical counts.
func CountTokens(messages []ChatMessage, model string) (int, error) {
	if !supportedModels[model] {
		return 0, &UnsupportedModelError{Model: model}
	}
	enc, err := encodingFor(model)
	if err != nil {
		return 0, err
	}

	numTokens := 0
	for _, m := range messages {
		numTokens += tokensPerMessage
		numTokens += len(enc.Encode(m.Role, nil, nil))
		numTokens += len(enc.Encode(m.Content, nil, nil))
		if m.Name != "" {
			// If there's a name, the role is omitted. The role is
			// always required and always one token.
			numTokens += len(enc.Encode(m.Name, nil, nil)) - 1
		}
	}
	numTokens += tokensPerReply
	return numTokens, nil
}
