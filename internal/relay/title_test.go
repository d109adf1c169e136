package relay

import (
	"context"
	"errors"
	"testing"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	text   string
	err    error
	params chatgpt.SamplingParams
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.ChatMessage, params chatgpt.SamplingParams) (string, error) {
	f.params = params
	if len(messages) > 0 {
		f.prompt = messages[0].Content
	}
	return f.text, f.err
}

type fakeTitleStore struct {
	first    *models.Message
	firstErr error
	topic    string
	topicID  uuid.UUID
}

func (f *fakeTitleStore) FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	return f.first, f.firstErr
}

func (f *fakeTitleStore) UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error {
	f.topicID = id
	f.topic = topic
	return nil
}

func TestGenerateStripsQuotesAndPersistsTopic(t *testing.T) {
	completer := &fakeCompleter{text: `  "Trip Planning Advice"  `}
	store := &fakeTitleStore{first: &models.Message{Content: "Help me plan a trip to Kyoto"}}
	g := NewTitleGenerator(completer, store, testLogger())

	conversationID := uuid.New()
	title := g.Generate(context.Background(), conversationID)

	assert.Equal(t, "Trip Planning Advice", title)
	assert.Equal(t, title, store.topic)
	assert.Equal(t, conversationID, store.topicID)

	// The first message rides inside the instruction prompt
	assert.Contains(t, completer.prompt, "Help me plan a trip to Kyoto")
	assert.Contains(t, completer.prompt, "no more than 10 words")

	require.Equal(t, float32(0.5), completer.params.Temperature)
	require.Equal(t, titleMaxTokens, completer.params.MaxTokens)
}

func TestGenerateFallsBackWhenCompletionFails(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("upstream down")}
	store := &fakeTitleStore{first: &models.Message{Content: "hello"}}
	g := NewTitleGenerator(completer, store, testLogger())

	title := g.Generate(context.Background(), uuid.New())

	assert.Equal(t, "Untitled Conversation", title)
	assert.Equal(t, "Untitled Conversation", store.topic, "fallback title is still persisted")
}

func TestGenerateFallsBackWhenFirstMessageMissing(t *testing.T) {
	completer := &fakeCompleter{text: "unused"}
	store := &fakeTitleStore{firstErr: errors.New("record not found")}
	g := NewTitleGenerator(completer, store, testLogger())

	title := g.Generate(context.Background(), uuid.New())

	assert.Equal(t, "Untitled Conversation", title)
}

func TestGenerateFallsBackOnEmptyCompletion(t *testing.T) {
	completer := &fakeCompleter{text: `""`}
	store := &fakeTitleStore{first: &models.Message{Content: "hello"}}
	g := NewTitleGenerator(completer, store, testLogger())

	title := g.Generate(context.Background(), uuid.New())

	assert.Equal(t, "Untitled Conversation", title)
}
