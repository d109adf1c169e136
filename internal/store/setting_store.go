package store

import (
	"context"
	"errors"

	"chatgpt-ui-server/backend/internal/models"

	"gorm.io/gorm"
)

// SettingStore reads named server-side configuration values
type SettingStore interface {
	// GetValue returns the value of the named setting, or "" when the
	// setting does not exist.
	GetValue(ctx context.Context, name string) (string, error)
}

type GormSettingStore struct {
	db *gorm.DB
}

func NewGormSettingStore(db *gorm.DB) *GormSettingStore {
	return &GormSettingStore{db: db}
}

func (s *GormSettingStore) GetValue(ctx context.Context, name string) (string, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}
