package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/internal/service"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatHandler serves the completion endpoints
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

func NewChatHandler(service *service.ChatService, logger *logger.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// ChatMessageRequest is the body of a chat turn
type ChatMessageRequest struct {
	ConversationID  string `json:"conversationId"`
	ParentMessageID string `json:"parentMessageId"`
	Message         string `json:"message" binding:"required"`
	// Stream selects SSE delivery; defaults to true
	Stream *bool `json:"stream"`
}

// Send handles one chat turn. With streaming enabled the response is a
// server-sent-event stream of message deltas closed by a done (or
// error) event; otherwise the full reply is returned as JSON once the
// upstream completes.
func (h *ChatHandler) Send(c *gin.Context) {
	userID := c.GetUint("userId")

	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	chatReq := service.ChatRequest{Content: req.Message}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId must be a UUID"})
			return
		}
		chatReq.ConversationID = &id
	}
	if req.ParentMessageID != "" {
		id, err := uuid.Parse(req.ParentMessageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "parentMessageId must be a UUID"})
			return
		}
		chatReq.ParentMessageID = &id
	}

	if req.Stream == nil || *req.Stream {
		h.sendStreaming(c, userID, chatReq)
		return
	}
	h.sendBuffered(c, userID, chatReq)
}

func (h *ChatHandler) sendStreaming(c *gin.Context, userID uint, req service.ChatRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming unsupported"})
		return
	}

	started := false
	emit := func(ev relay.Event) error {
		if !started {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			started = true
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err := h.service.SendMessage(c.Request.Context(), userID, req, emit)
	if err != nil && !started {
		// Nothing was sent yet, so a plain error response is still possible
		h.respondError(c, err)
	}
}

func (h *ChatHandler) sendBuffered(c *gin.Context, userID uint, req service.ChatRequest) {
	discard := func(relay.Event) error { return nil }

	result, err := h.service.SendMessage(c.Request.Context(), userID, req, discard)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messageId":      result.Message.ID.String(),
		"conversationId": result.ConversationID.String(),
		"content":        result.Message.Content,
	})
}

// GenerateTitleRequest names the conversation to summarize
type GenerateTitleRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

// GenerateTitle produces a short topic for a conversation from its
// opening message and returns it. Failures degrade to a placeholder,
// so the endpoint only errors on bad input or a foreign conversation.
func (h *ChatHandler) GenerateTitle(c *gin.Context) {
	userID := c.GetUint("userId")

	var req GenerateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId must be a UUID"})
		return
	}

	title, err := h.service.GenerateTitle(c.Request.Context(), userID, conversationID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"title": title})
}

func (h *ChatHandler) respondError(c *gin.Context, err error) {
	var promptTooLong *llm.PromptTooLongError
	var unsupported *llm.UnsupportedModelError
	var upstream *chatgpt.UpstreamError

	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content is required"})
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.As(err, &promptTooLong):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": promptTooLong.Error()})
	case errors.As(err, &unsupported):
		h.logger.Error("Configured model is unsupported", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server model configuration is invalid"})
	case errors.Is(err, service.ErrNoAPIKey):
		h.logger.Error("No API key available for the official backend")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server is not configured for completions"})
	case errors.Is(err, chatgpt.ErrAuthenticationFailed), errors.Is(err, chatgpt.ErrAuthExpired):
		h.logger.Error("Upstream authentication failed", "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream authentication failed"})
	case errors.Is(err, chatgpt.ErrUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Upstream service is unavailable"})
	case errors.As(err, &upstream):
		h.logger.Warn("Upstream rejected the request", "status", upstream.StatusCode, "body", upstream.Body)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream request failed"})
	default:
		h.logger.Error("Chat request failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred"})
	}
}
