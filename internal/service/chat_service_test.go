package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/pkg/config"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: false, Output: io.Discard})
}

// memStore is an in-memory ConversationStore
type memStore struct {
	conversations map[uuid.UUID]*models.Conversation
	messages      []*models.Message
}

func newMemStore() *memStore {
	return &memStore{conversations: map[uuid.UUID]*models.Conversation{}}
}

func (m *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if c, ok := m.conversations[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	m.conversations[c.ID] = c
	return nil
}

func (m *memStore) ListConversations(ctx context.Context, userID uint) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error {
	if c, ok := m.conversations[id]; ok {
		c.Topic = topic
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) UpdateConversationUpstreamID(ctx context.Context, id uuid.UUID, upstreamID string) error {
	if c, ok := m.conversations[id]; ok {
		c.UpstreamID = upstreamID
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (m *memStore) DeleteConversation(ctx context.Context, id uuid.UUID, userID uint) error {
	delete(m.conversations, id)
	return nil
}

func (m *memStore) DeleteAllConversations(ctx context.Context, userID uint) error {
	for id, c := range m.conversations {
		if c.UserID == userID {
			delete(m.conversations, id)
		}
	}
	return nil
}

func (m *memStore) GetOrderedMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, msg)
	return nil
}

// scriptedSession is a CredentialManager whose refresh simply restores
// validity, counting how often it was needed.
type scriptedSession struct {
	valid     atomic.Bool
	refreshes atomic.Int32
}

func (s *scriptedSession) Valid() bool { return s.valid.Load() }
func (s *scriptedSession) Current() chatgpt.Credential {
	return chatgpt.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
}
func (s *scriptedSession) Refresh(ctx context.Context) error {
	s.refreshes.Add(1)
	s.valid.Store(true)
	return nil
}
func (s *scriptedSession) Invalidate() { s.valid.Store(false) }

func writeAssistantFrame(w io.Writer, id, conversationID, text string) {
	frame := map[string]any{
		"message": map[string]any{
			"id":     id,
			"author": map[string]any{"role": "assistant"},
			"content": map[string]any{
				"content_type": "text",
				"parts":        []string{text},
			},
		},
		"conversation_id": conversationID,
	}
	raw, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func newUnofficialService(t *testing.T, upstreamURL string, session chatgpt.CredentialManager, st *memStore) *ChatService {
	t.Helper()
	log := testLogger()
	client := chatgpt.NewUnofficialClient(session, chatgpt.UnofficialConfig{
		BaseURL:        upstreamURL,
		PassModeration: true,
	}, log)
	return NewChatService(ChatServiceDeps{
		Store:      st,
		Unofficial: client,
		Session:    session,
		Backend:    config.BackendUnofficial,
		Relay:      relay.New(st, log),
		Logger:     log,
	})
}

func TestSendMessageCreatesConversationAndStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAssistantFrame(w, uuid.New().String(), "upstream-conv-1", "Hello")
		writeAssistantFrame(w, uuid.New().String(), "upstream-conv-1", "Hello there")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	session := &scriptedSession{}
	session.valid.Store(true)
	st := newMemStore()
	svc := newUnofficialService(t, srv.URL, session, st)

	var events []relay.Event
	result, err := svc.SendMessage(context.Background(), 1, ChatRequest{Content: "Say hello"}, func(ev relay.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	// Conversation was created lazily and owned by the caller
	conversation, ok := st.conversations[result.ConversationID]
	require.True(t, ok)
	assert.Equal(t, uint(1), conversation.UserID)
	assert.Equal(t, "upstream-conv-1", conversation.UpstreamID)

	// User message first, assistant reply second, threaded to it
	require.Len(t, st.messages, 2)
	userMsg, botMsg := st.messages[0], st.messages[1]
	assert.Equal(t, "Say hello", userMsg.Content)
	assert.False(t, userMsg.IsBot)
	assert.Equal(t, "Hello there", botMsg.Content)
	assert.True(t, botMsg.IsBot)
	require.NotNil(t, botMsg.ParentMessageID)
	assert.Equal(t, userMsg.ID, *botMsg.ParentMessageID)

	require.NotEmpty(t, events)
	assert.Equal(t, relay.EventDone, events[len(events)-1].Name)
	assert.Equal(t, botMsg.ID, result.Message.ID)
}

func TestSendMessageRetriesOnceAfterAuthExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		writeAssistantFrame(w, uuid.New().String(), "conv-9", "recovered")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	session := &scriptedSession{}
	session.valid.Store(true)
	st := newMemStore()
	svc := newUnofficialService(t, srv.URL, session, st)

	result, err := svc.SendMessage(context.Background(), 1, ChatRequest{Content: "hi"}, func(relay.Event) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, session.refreshes.Load(), int32(1))
	assert.Equal(t, "recovered", result.Message.Content)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	st := newMemStore()
	session := &scriptedSession{}
	session.valid.Store(true)
	svc := newUnofficialService(t, "http://unused.invalid", session, st)

	_, err := svc.SendMessage(context.Background(), 1, ChatRequest{}, func(relay.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, st.messages)
}

func TestSendMessageHidesForeignConversations(t *testing.T) {
	st := newMemStore()
	foreign := &models.Conversation{UserID: 2}
	require.NoError(t, st.CreateConversation(context.Background(), foreign))

	session := &scriptedSession{}
	session.valid.Store(true)
	svc := newUnofficialService(t, "http://unused.invalid", session, st)

	_, err := svc.SendMessage(context.Background(), 1, ChatRequest{
		ConversationID: &foreign.ID,
		Content:        "peek",
	}, func(relay.Event) error { return nil })

	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageContinuesUpstreamConversation(t *testing.T) {
	var sawConversationID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ConversationID string `json:"conversation_id"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		sawConversationID.Store(payload.ConversationID)

		writeAssistantFrame(w, uuid.New().String(), "upstream-conv-7", "more")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	session := &scriptedSession{}
	session.valid.Store(true)
	st := newMemStore()
	svc := newUnofficialService(t, srv.URL, session, st)

	conversation := &models.Conversation{UserID: 1, UpstreamID: "upstream-conv-7"}
	require.NoError(t, st.CreateConversation(context.Background(), conversation))

	_, err := svc.SendMessage(context.Background(), 1, ChatRequest{
		ConversationID: &conversation.ID,
		Content:        "continue",
	}, func(relay.Event) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, "upstream-conv-7", sawConversationID.Load())
}
