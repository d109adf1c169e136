package api

import (
	"errors"
	"net/http"

	"chatgpt-ui-server/backend/internal/store"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationHandler serves conversation CRUD endpoints
type ConversationHandler struct {
	store  store.ConversationStore
	logger *logger.Logger
}

func NewConversationHandler(store store.ConversationStore, logger *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// List returns the user's conversations, newest first
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetUint("userId")

	conversations, err := h.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list conversations", "error", err.Error(), "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// Messages returns a conversation's messages in chronological order
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID := c.GetUint("userId")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation ID must be a UUID"})
		return
	}

	conversation, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil || conversation.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	messages, err := h.store.GetOrderedMessages(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load messages", "error", err.Error(), "conversation_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// UpdateTopicRequest renames a conversation
type UpdateTopicRequest struct {
	Topic string `json:"topic" binding:"required"`
}

// UpdateTopic renames a conversation
func (h *ConversationHandler) UpdateTopic(c *gin.Context) {
	userID := c.GetUint("userId")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation ID must be a UUID"})
		return
	}

	var req UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	conversation, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil || conversation.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	if err := h.store.UpdateConversationTopic(c.Request.Context(), id, req.Topic); err != nil {
		h.logger.Error("Failed to update topic", "error", err.Error(), "conversation_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update topic"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Topic updated"})
}

// Delete removes a conversation and its messages
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID := c.GetUint("userId")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation ID must be a UUID"})
		return
	}

	if err := h.store.DeleteConversation(c.Request.Context(), id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		h.logger.Error("Failed to delete conversation", "error", err.Error(), "conversation_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// DeleteAll removes every conversation of the user
func (h *ConversationHandler) DeleteAll(c *gin.Context) {
	userID := c.GetUint("userId")

	if err := h.store.DeleteAllConversations(c.Request.Context(), userID); err != nil {
		h.logger.Error("Failed to delete conversations", "error", err.Error(), "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All conversations deleted"})
}
