package relay

import (
	"context"
	"fmt"
	"strings"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/google/uuid"
)

const (
	titleInstruction = `Generate a short title for the following content, no more than 10 words: ` + "\n\n" + ` "%s"`
	fallbackTitle    = "Untitled Conversation"
	titleMaxTokens   = 256
)

// Completer is the non-streaming completion call used for titles
type Completer interface {
	Complete(ctx context.Context, messages []llm.ChatMessage, params chatgpt.SamplingParams) (string, error)
}

// TitleStore is the slice of persistence title generation needs
type TitleStore interface {
	FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)
	UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error
}

// TitleGenerator summarizes a conversation's first message into a short
// topic. It never fails the caller: any upstream problem degrades to a
// placeholder title.
type TitleGenerator struct {
	completer Completer
	store     TitleStore
	log       *logger.Logger
}

func NewTitleGenerator(completer Completer, store TitleStore, log *logger.Logger) *TitleGenerator {
	return &TitleGenerator{completer: completer, store: store, log: log}
}

// Generate produces, persists and returns the conversation title
func (g *TitleGenerator) Generate(ctx context.Context, conversationID uuid.UUID) string {
	title := fallbackTitle

	if first, err := g.store.FirstMessage(ctx, conversationID); err != nil {
		g.log.Warn("Title generation could not load first message", "error", err.Error(), "conversation_id", conversationID)
	} else if generated, err := g.complete(ctx, first.Content); err != nil {
		g.log.Warn("Title generation failed, using fallback", "error", err.Error(), "conversation_id", conversationID)
	} else if generated != "" {
		title = generated
	}

	if err := g.store.UpdateConversationTopic(ctx, conversationID, title); err != nil {
		g.log.Error("Failed to update conversation topic", "error", err.Error(), "conversation_id", conversationID)
	}
	return title
}

func (g *TitleGenerator) complete(ctx context.Context, content string) (string, error) {
	messages := []llm.ChatMessage{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(titleInstruction, content),
	}}
	text, err := g.completer.Complete(ctx, messages, chatgpt.SamplingParams{
		Temperature:      0.5,
		TopP:             1,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
		MaxTokens:        titleMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(strings.TrimSpace(text), `"`, ""), nil
}
