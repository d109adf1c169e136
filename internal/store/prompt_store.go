package store

import (
	"context"

	"chatgpt-ui-server/backend/internal/models"

	"gorm.io/gorm"
)

// PromptStore persists user-saved prompt templates
type PromptStore interface {
	ListPrompts(ctx context.Context, userID uint) ([]models.Prompt, error)
	CreatePrompt(ctx context.Context, prompt *models.Prompt) error
	UpdatePrompt(ctx context.Context, prompt *models.Prompt) error
	DeletePrompt(ctx context.Context, id uint, userID uint) error
	DeleteAllPrompts(ctx context.Context, userID uint) error
}

type GormPromptStore struct {
	db *gorm.DB
}

func NewGormPromptStore(db *gorm.DB) *GormPromptStore {
	return &GormPromptStore{db: db}
}

func (s *GormPromptStore) ListPrompts(ctx context.Context, userID uint) ([]models.Prompt, error) {
	var prompts []models.Prompt
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&prompts).Error
	return prompts, err
}

func (s *GormPromptStore) CreatePrompt(ctx context.Context, prompt *models.Prompt) error {
	return s.db.WithContext(ctx).Create(prompt).Error
}

func (s *GormPromptStore) UpdatePrompt(ctx context.Context, prompt *models.Prompt) error {
	result := s.db.WithContext(ctx).
		Model(&models.Prompt{}).
		Where("id = ? AND user_id = ?", prompt.ID, prompt.UserID).
		Update("content", prompt.Content)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormPromptStore) DeletePrompt(ctx context.Context, id uint, userID uint) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Prompt{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormPromptStore) DeleteAllPrompts(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Prompt{}).Error
}
