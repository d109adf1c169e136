package chatgpt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatgpt-ui-server/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: false, Output: io.Discard})
}

func loginServer(t *testing.T, calls *atomic.Int32, expiresIn time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "someone@example.com", body.Email)

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-123",
			"expires_at":   time.Now().Add(expiresIn).Unix(),
			"cookie":       "session=abc",
		})
	}))
}

func TestStaticKey(t *testing.T) {
	key := NewStaticKey("sk-test")

	assert.True(t, key.Valid())
	assert.Equal(t, "sk-test", key.Current().AccessToken)
	assert.NoError(t, key.Refresh(context.Background()))

	key.Invalidate()
	assert.True(t, key.Valid(), "a configured API key cannot be invalidated")

	assert.False(t, NewStaticKey("").Valid())
}

func TestSessionManagerRefreshInstallsCredential(t *testing.T) {
	var calls atomic.Int32
	srv := loginServer(t, &calls, time.Hour)
	defer srv.Close()

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "hunter2",
		AuthURL:  srv.URL,
	}, testLogger())

	assert.False(t, m.Valid())
	require.NoError(t, m.Refresh(context.Background()))
	assert.True(t, m.Valid())

	cred := m.Current()
	assert.Equal(t, "token-123", cred.AccessToken)
	assert.Equal(t, "session=abc", cred.Cookie)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionManagerConcurrentRefreshLogsInOnce(t *testing.T) {
	var calls atomic.Int32
	srv := loginServer(t, &calls, time.Hour)
	defer srv.Close()

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "hunter2",
		AuthURL:  srv.URL,
	}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	// Later refreshers observe the first refresher's credential
	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionManagerRejectsExpiredLoginResult(t *testing.T) {
	var calls atomic.Int32
	srv := loginServer(t, &calls, -time.Minute)
	defer srv.Close()

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "hunter2",
		AuthURL:  srv.URL,
	}, testLogger())

	err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, m.Valid())
}

func TestSessionManagerLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusForbidden)
	}))
	defer srv.Close()

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "wrong",
		AuthURL:  srv.URL,
	}, testLogger())

	err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSessionManagerInvalidate(t *testing.T) {
	var calls atomic.Int32
	srv := loginServer(t, &calls, time.Hour)
	defer srv.Close()

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "hunter2",
		AuthURL:  srv.URL,
	}, testLogger())

	require.NoError(t, m.Refresh(context.Background()))
	require.True(t, m.Valid())

	m.Invalidate()
	assert.False(t, m.Valid())

	// The next refresh performs a fresh login
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

type memoryCache struct {
	mu   sync.Mutex
	cred Credential
	ok   bool
}

func (c *memoryCache) Load(ctx context.Context) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred, c.ok
}

func (c *memoryCache) Save(ctx context.Context, cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred, c.ok = cred, true
}

func (c *memoryCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred, c.ok = Credential{}, false
}

func TestSessionManagerAdoptsCachedCredential(t *testing.T) {
	cache := &memoryCache{}
	cache.Save(context.Background(), Credential{
		AccessToken: "cached-token",
		ExpiresAt:   time.Now().Add(time.Hour),
		Cookie:      "session=cached",
	})

	m := NewSessionManager(SessionConfig{
		Email:    "someone@example.com",
		Password: "hunter2",
		AuthURL:  "http://unused.invalid",
		Cache:    cache,
	}, testLogger())

	assert.True(t, m.Valid())
	assert.Equal(t, "cached-token", m.Current().AccessToken)
}
