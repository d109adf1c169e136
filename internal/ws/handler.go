package ws

import (
	"net/http"
	"strings"

	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/internal/service"
	"chatgpt-ui-server/backend/pkg/jwt"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades chat requests to a WebSocket and relays the same
// event stream the SSE endpoint produces, one JSON frame per event.
type Handler struct {
	chat     *service.ChatService
	jwt      *jwt.Service
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(chat *service.ChatService, jwtService *jwt.Service, log *logger.Logger) *Handler {
	return &Handler{
		chat: chat,
		jwt:  jwtService,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS is enforced at the HTTP layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// inbound is one chat turn sent by the client
type inbound struct {
	ConversationID  string `json:"conversationId"`
	ParentMessageID string `json:"parentMessageId"`
	Message         string `json:"message"`
}

// frame is one outbound event
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Serve authenticates the connection and then processes chat turns
// sequentially until the client disconnects. Browsers cannot set an
// Authorization header on a WebSocket, so the token also rides in the
// `token` query parameter.
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	h.log.Info("WebSocket chat session opened", "user_id", claims.UserID)

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("WebSocket read ended", "error", err.Error())
			}
			return
		}
		h.handleTurn(c, conn, claims.UserID, in)
	}
}

func (h *Handler) handleTurn(c *gin.Context, conn *websocket.Conn, userID uint, in inbound) {
	req := service.ChatRequest{Content: in.Message}
	if in.ConversationID != "" {
		id, err := uuid.Parse(in.ConversationID)
		if err != nil {
			conn.WriteJSON(frame{Event: relay.EventError, Data: relay.ErrorPayload{Error: "conversationId must be a UUID"}})
			return
		}
		req.ConversationID = &id
	}
	if in.ParentMessageID != "" {
		id, err := uuid.Parse(in.ParentMessageID)
		if err != nil {
			conn.WriteJSON(frame{Event: relay.EventError, Data: relay.ErrorPayload{Error: "parentMessageId must be a UUID"}})
			return
		}
		req.ParentMessageID = &id
	}

	reported := false
	emit := func(ev relay.Event) error {
		err := conn.WriteJSON(frame{Event: ev.Name, Data: ev.Payload})
		if err == nil && ev.Name == relay.EventError {
			reported = true
		}
		return err
	}

	if _, err := h.chat.SendMessage(c.Request.Context(), userID, req, emit); err != nil && !reported {
		// Relay failures were already reported in-band; anything else
		// (validation, conversation lookup) still needs a frame
		conn.WriteJSON(frame{Event: relay.EventError, Data: relay.ErrorPayload{Error: err.Error()}})
	}
}
