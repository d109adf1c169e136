package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/internal/service"
	"chatgpt-ui-server/backend/pkg/config"
	"chatgpt-ui-server/backend/pkg/jwt"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: false, Output: io.Discard})
}

type wsStore struct {
	conversations map[uuid.UUID]*models.Conversation
	messages      []*models.Message
}

func newWSStore() *wsStore {
	return &wsStore{conversations: map[uuid.UUID]*models.Conversation{}}
}

func (s *wsStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if c, ok := s.conversations[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *wsStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *wsStore) ListConversations(ctx context.Context, userID uint) ([]models.Conversation, error) {
	return nil, nil
}

func (s *wsStore) UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error {
	return nil
}

func (s *wsStore) UpdateConversationUpstreamID(ctx context.Context, id uuid.UUID, upstreamID string) error {
	return nil
}

func (s *wsStore) DeleteConversation(ctx context.Context, id uuid.UUID, userID uint) error {
	return nil
}

func (s *wsStore) DeleteAllConversations(ctx context.Context, userID uint) error { return nil }

func (s *wsStore) GetOrderedMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return nil, nil
}

func (s *wsStore) FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *wsStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.messages = append(s.messages, m)
	return nil
}

type validSession struct{}

func (validSession) Valid() bool { return true }
func (validSession) Current() chatgpt.Credential {
	return chatgpt.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
}
func (validSession) Refresh(ctx context.Context) error { return nil }
func (validSession) Invalidate()                       {}

func newWSServer(t *testing.T, upstreamURL string) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := testLogger()
	client := chatgpt.NewUnofficialClient(validSession{}, chatgpt.UnofficialConfig{
		BaseURL:        upstreamURL,
		PassModeration: true,
	}, log)

	st := newWSStore()
	svc := service.NewChatService(service.ChatServiceDeps{
		Store:      st,
		Unofficial: client,
		Session:    validSession{},
		Backend:    config.BackendUnofficial,
		Relay:      relay.New(st, log),
		Logger:     log,
	})

	jwtService := jwt.NewService("", 0)
	handler := NewHandler(svc, jwtService, log)

	engine := gin.New()
	engine.GET("/ws", handler.Serve)
	srv := httptest.NewServer(engine)

	token, err := jwtService.GenerateToken(1, "user@example.com", jwt.RoleUser)
	require.NoError(t, err)
	return srv, token
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

// readFrames drains frames until the read deadline passes
func readFrames(t *testing.T, conn *websocket.Conn, window time.Duration) []frame {
	t.Helper()
	var frames []frame
	conn.SetReadDeadline(time.Now().Add(window))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func countEvents(frames []frame, name string) int {
	n := 0
	for _, f := range frames {
		if f.Event == name {
			n++
		}
	}
	return n
}

func TestServeRejectsMissingToken(t *testing.T) {
	srv, _ := newWSServer(t, "http://unused.invalid")
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeStreamsTurnEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCumulativeFrame(w, "Hi")
		writeCumulativeFrame(w, "Hi there")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	srv, token := newWSServer(t, upstream.URL)
	defer srv.Close()
	conn := dialWS(t, srv, token)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "Say hi"}))

	frames := readFrames(t, conn, 500*time.Millisecond)
	require.NotEmpty(t, frames)
	assert.Equal(t, 2, countEvents(frames, relay.EventMessage))
	assert.Equal(t, 1, countEvents(frames, relay.EventDone))
	assert.Zero(t, countEvents(frames, relay.EventError))
}

func TestServeRejectedTurnGetsOneErrorFrame(t *testing.T) {
	srv, token := newWSServer(t, "http://unused.invalid")
	defer srv.Close()
	conn := dialWS(t, srv, token)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": ""}))

	frames := readFrames(t, conn, 500*time.Millisecond)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.EventError, frames[0].Event)
}

func TestServeMidStreamFailureGetsOneErrorFrame(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCumulativeFrame(w, "partial")
		// A frame the stream cannot decode kills the turn mid-reply
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer upstream.Close()

	srv, token := newWSServer(t, upstream.URL)
	defer srv.Close()
	conn := dialWS(t, srv, token)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "go"}))

	frames := readFrames(t, conn, 500*time.Millisecond)
	assert.Equal(t, 1, countEvents(frames, relay.EventMessage))
	assert.Equal(t, 1, countEvents(frames, relay.EventError), "a failed turn reports exactly one error")
	assert.Zero(t, countEvents(frames, relay.EventDone))
}

func writeCumulativeFrame(w io.Writer, text string) {
	payload := map[string]any{
		"message": map[string]any{
			"id":     uuid.New().String(),
			"author": map[string]any{"role": "assistant"},
			"content": map[string]any{
				"content_type": "text",
				"parts":        []string{text},
			},
		},
		"conversation_id": "conv-1",
	}
	raw, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}
