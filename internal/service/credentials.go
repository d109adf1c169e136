package service

import (
	"context"
	"errors"

	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/internal/store"
	"chatgpt-ui-server/backend/pkg/cache"
	"chatgpt-ui-server/backend/pkg/logger"
	"chatgpt-ui-server/backend/pkg/secrets"
)

// ErrNoAPIKey means no OpenAI API key could be resolved from any source
var ErrNoAPIKey = errors.New("no OpenAI API key configured")

const apiKeyCacheKey = "openai_api_key"

// APIKeySource resolves the OpenAI API key for the official path. Sources
// are consulted in order: environment, Vault, the settings table. The
// resolved key is cached in memory so the per-request cost is a map read.
type APIKeySource struct {
	envKey   string
	settings store.SettingStore
	cache    *cache.Cache
	log      *logger.Logger
}

func NewAPIKeySource(envKey string, settings store.SettingStore, c *cache.Cache, log *logger.Logger) *APIKeySource {
	return &APIKeySource{envKey: envKey, settings: settings, cache: c, log: log}
}

// Resolve returns the API key, or ErrNoAPIKey when every source is empty
func (s *APIKeySource) Resolve(ctx context.Context) (string, error) {
	if s.envKey != "" {
		return s.envKey, nil
	}

	if cached, ok := s.cache.Get(apiKeyCacheKey); ok {
		if key, ok := cached.(string); ok && key != "" {
			return key, nil
		}
	}

	if key, err := secrets.GetSecret(ctx, models.SettingOpenAIAPIKey); err == nil && key != "" {
		s.cache.Set(apiKeyCacheKey, key)
		return key, nil
	}

	key, err := s.settings.GetValue(ctx, models.SettingOpenAIAPIKey)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNoAPIKey
	}
	s.cache.Set(apiKeyCacheKey, key)
	return key, nil
}

// Invalidate drops the cached key so the next resolve re-reads the
// backing sources. Called after an admin updates the stored key.
func (s *APIKeySource) Invalidate() {
	s.cache.Delete(apiKeyCacheKey)
}
