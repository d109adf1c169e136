package api

import (
	"errors"
	"net/http"
	"strconv"

	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/internal/store"
	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PromptHandler serves the saved prompt template endpoints
type PromptHandler struct {
	store  store.PromptStore
	logger *logger.Logger
}

func NewPromptHandler(store store.PromptStore, logger *logger.Logger) *PromptHandler {
	return &PromptHandler{store: store, logger: logger}
}

// PromptRequest is the body for creating or updating a prompt
type PromptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// List returns the user's saved prompts, newest first
func (h *PromptHandler) List(c *gin.Context) {
	userID := c.GetUint("userId")

	prompts, err := h.store.ListPrompts(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list prompts", "error", err.Error(), "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list prompts"})
		return
	}
	c.JSON(http.StatusOK, prompts)
}

// Create saves a new prompt template
func (h *PromptHandler) Create(c *gin.Context) {
	userID := c.GetUint("userId")

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	prompt := &models.Prompt{UserID: userID, Content: req.Prompt}
	if err := h.store.CreatePrompt(c.Request.Context(), prompt); err != nil {
		h.logger.Error("Failed to create prompt", "error", err.Error(), "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create prompt"})
		return
	}
	c.JSON(http.StatusCreated, prompt)
}

// Update rewrites the content of a saved prompt
func (h *PromptHandler) Update(c *gin.Context) {
	userID := c.GetUint("userId")

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt ID must be a number"})
		return
	}

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	prompt := &models.Prompt{ID: uint(id), UserID: userID, Content: req.Prompt}
	if err := h.store.UpdatePrompt(c.Request.Context(), prompt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Prompt not found"})
			return
		}
		h.logger.Error("Failed to update prompt", "error", err.Error(), "prompt_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update prompt"})
		return
	}
	c.JSON(http.StatusOK, prompt)
}

// Delete removes a saved prompt
func (h *PromptHandler) Delete(c *gin.Context) {
	userID := c.GetUint("userId")

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt ID must be a number"})
		return
	}

	if err := h.store.DeletePrompt(c.Request.Context(), uint(id), userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Prompt not found"})
			return
		}
		h.logger.Error("Failed to delete prompt", "error", err.Error(), "prompt_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete prompt"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Prompt deleted"})
}

// DeleteAll removes every saved prompt of the user
func (h *PromptHandler) DeleteAll(c *gin.Context) {
	userID := c.GetUint("userId")

	if err := h.store.DeleteAllPrompts(c.Request.Context(), userID); err != nil {
		h.logger.Error("Failed to delete prompts", "error", err.Error(), "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete prompts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All prompts deleted"})
}
