package store

import (
	"context"

	"chatgpt-ui-server/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationStore is what the chat core needs from persistence:
// ordered history reads, message and conversation creation, and topic
// updates. The REST layer uses the listing and deletion methods.
type ConversationStore interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conversation *models.Conversation) error
	ListConversations(ctx context.Context, userID uint) ([]models.Conversation, error)
	UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error
	UpdateConversationUpstreamID(ctx context.Context, id uuid.UUID, upstreamID string) error
	DeleteConversation(ctx context.Context, id uuid.UUID, userID uint) error
	DeleteAllConversations(ctx context.Context, userID uint) error

	GetOrderedMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)
	CreateMessage(ctx context.Context, message *models.Message) error
}

// GormConversationStore implements ConversationStore on PostgreSQL
type GormConversationStore struct {
	db *gorm.DB
}

func NewGormConversationStore(db *gorm.DB) *GormConversationStore {
	return &GormConversationStore{db: db}
}

func (s *GormConversationStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.WithContext(ctx).First(&conversation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (s *GormConversationStore) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	return s.db.WithContext(ctx).Create(conversation).Error
}

func (s *GormConversationStore) ListConversations(ctx context.Context, userID uint) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (s *GormConversationStore) UpdateConversationTopic(ctx context.Context, id uuid.UUID, topic string) error {
	return s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("topic", topic).Error
}

func (s *GormConversationStore) UpdateConversationUpstreamID(ctx context.Context, id uuid.UUID, upstreamID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("upstream_id", upstreamID).Error
}

// DeleteConversation removes a conversation and its messages. Messages
// are never deleted individually; this cascade is the only path.
func (s *GormConversationStore) DeleteConversation(ctx context.Context, id uuid.UUID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error
	})
}

func (s *GormConversationStore) DeleteAllConversations(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.Conversation{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("conversation_id IN ?", ids).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.Conversation{}).Error
	})
}

func (s *GormConversationStore) GetOrderedMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (s *GormConversationStore) FirstMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	var message models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *GormConversationStore) CreateMessage(ctx context.Context, message *models.Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}
