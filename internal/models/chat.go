package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation groups the messages of one chat thread for a user.
// Topic starts empty and is filled in later by title generation.
type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uint      `gorm:"index" json:"-"`
	Topic  string    `gorm:"size:255" json:"topic"`
	// UpstreamID is the conversation id assigned by the web chat
	// backend, recorded after the first streamed reply so follow-up
	// turns continue the same upstream thread. Empty on the API path.
	UpstreamID string    `gorm:"size:64" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when none was supplied
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message is a single chat message. ParentMessageID is relational
// metadata only; the reply tree is never walked in memory.
type Message struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID  uuid.UUID  `gorm:"type:uuid;index" json:"conversation_id"`
	ParentMessageID *uuid.UUID `gorm:"type:uuid" json:"parent_message_id,omitempty"`
	Content         string     `gorm:"type:text" json:"message"`
	IsBot           bool       `gorm:"default:false" json:"is_bot"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BeforeCreate assigns a UUID when none was supplied
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Prompt is a user-saved prompt template
type Prompt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"-"`
	Content   string    `gorm:"type:text" json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting is a named server-side configuration value
type Setting struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"size:255;uniqueIndex" json:"name"`
	Value string `gorm:"type:text" json:"value"`
}

// SettingOpenAIAPIKey is the settings row holding the OpenAI API key
// when it is not supplied through the environment or Vault.
const SettingOpenAIAPIKey = "openai_api_key"
