package chatgpt

import (
	"context"
	"encoding/json"
	"time"

	sharedredis "chatgpt-ui-server/backend/shared/redis"

	"chatgpt-ui-server/backend/pkg/logger"
)

const credentialCacheKey = "chatgpt:session_credential"

// RedisCredentialCache keeps the session credential in Redis so a
// restart does not force a fresh login while the token is still good.
type RedisCredentialCache struct {
	client *sharedredis.Client
	log    *logger.Logger
}

// NewRedisCredentialCache wraps a shared Redis client
func NewRedisCredentialCache(client *sharedredis.Client, log *logger.Logger) *RedisCredentialCache {
	return &RedisCredentialCache{client: client, log: log}
}

func (c *RedisCredentialCache) Load(ctx context.Context) (Credential, bool) {
	raw, err := c.client.Get(ctx, credentialCacheKey)
	if err != nil {
		return Credential{}, false
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		c.log.Warn("Discarding malformed cached credential", "error", err.Error())
		return Credential{}, false
	}
	return cred, true
}

func (c *RedisCredentialCache) Save(ctx context.Context, cred Credential) {
	raw, err := json.Marshal(cred)
	if err != nil {
		return
	}
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, credentialCacheKey, string(raw), ttl); err != nil {
		c.log.Warn("Failed to cache session credential", "error", err.Error())
	}
}

func (c *RedisCredentialCache) Clear(ctx context.Context) {
	if err := c.client.Del(ctx, credentialCacheKey); err != nil {
		c.log.Warn("Failed to clear cached credential", "error", err.Error())
	}
}
