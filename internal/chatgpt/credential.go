package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chatgpt-ui-server/backend/pkg/logger"
)

// Credential is an upstream access credential. For the official API path
// only AccessToken is set (the long-lived API key); the web backend path
// carries a session token with an expiry and a session cookie.
type Credential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Cookie      string    `json:"cookie,omitempty"`
}

// Expired reports whether the credential is unusable at the given time
func (c Credential) Expired(now time.Time) bool {
	return c.AccessToken == "" || c.ExpiresAt.Before(now)
}

// CredentialManager owns the lifecycle of an upstream credential
type CredentialManager interface {
	// Valid reports whether the current credential can be used
	Valid() bool

	// Current returns the credential to attach to the next request
	Current() Credential

	// Refresh obtains a fresh credential. Concurrent refreshes are
	// serialized; the first refresher wins and later callers observe
	// the refreshed credential.
	Refresh(ctx context.Context) error

	// Invalidate discards the credential after an observed upstream
	// rejection, independent of the stored expiry.
	Invalidate()
}

// KeyResolver supplies the API key for the official path. Resolution
// runs on every request so a key rotated in the backing sources lands
// without a restart; Invalidate discards any memoized key after an
// upstream rejection.
type KeyResolver interface {
	Resolve(ctx context.Context) (string, error)
	Invalidate()
}

// StaticKey is the official-path credential: a configured API key that
// never expires and cannot be refreshed.
type StaticKey struct {
	key string
}

// NewStaticKey wraps a configured API key
func NewStaticKey(key string) *StaticKey {
	return &StaticKey{key: key}
}

func (s *StaticKey) Valid() bool { return s.key != "" }

func (s *StaticKey) Current() Credential {
	// No meaningful expiry for an API key; report one far in the future
	return Credential{AccessToken: s.key, ExpiresAt: time.Now().Add(24 * 365 * time.Hour)}
}

func (s *StaticKey) Refresh(ctx context.Context) error { return nil }

func (s *StaticKey) Invalidate() {}

func (s *StaticKey) Resolve(ctx context.Context) (string, error) { return s.key, nil }

// CredentialCache persists a session credential across restarts, mirroring
// the upstream client's token file. Best effort: failures only cost an
// extra login.
type CredentialCache interface {
	Load(ctx context.Context) (Credential, bool)
	Save(ctx context.Context, cred Credential)
	Clear(ctx context.Context)
}

// SessionConfig configures a SessionManager
type SessionConfig struct {
	Email    string
	Password string
	// AuthURL is the login endpoint of the web chat backend
	AuthURL string
	// Proxy is an optional HTTP proxy for the login call
	Proxy string
	// Cache optionally persists the credential between processes
	Cache CredentialCache
}

// SessionManager holds the process-wide session credential for the web
// backend path. The credential is shared read-mostly across requests;
// refresh is mutually exclusive so concurrent expiry detections perform
// a single login.
type SessionManager struct {
	mu     sync.Mutex
	cred   Credential
	config SessionConfig
	client *http.Client
	log    *logger.Logger
}

// NewSessionManager creates a session credential manager. The cached
// credential, when present and unexpired, is adopted without a login.
func NewSessionManager(config SessionConfig, log *logger.Logger) *SessionManager {
	client := &http.Client{Timeout: 60 * time.Second}
	if config.Proxy != "" {
		if proxyURL, err := url.Parse(config.Proxy); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			log.Warn("Ignoring invalid proxy URL", "proxy", config.Proxy, "error", err.Error())
		}
	}

	m := &SessionManager{config: config, client: client, log: log}

	if config.Cache != nil {
		if cred, ok := config.Cache.Load(context.Background()); ok && !cred.Expired(time.Now()) {
			m.cred = cred
			log.Info("Adopted cached session credential", "expires_at", cred.ExpiresAt)
		}
	}
	return m
}

func (m *SessionManager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.cred.Expired(time.Now())
}

func (m *SessionManager) Current() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Refresh logs in with the configured email and password and installs
// the resulting token, expiry and cookie. If another request refreshed
// the credential while this one waited on the lock, the login is
// skipped. A login that yields an already-expired or absent token fails
// with ErrAuthenticationFailed.
func (m *SessionManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cred.Expired(time.Now()) {
		return nil
	}

	cred, err := m.login(ctx)
	if err != nil {
		m.log.Warn("Session login failed", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if cred.Expired(time.Now()) {
		return fmt.Errorf("%w: login returned an expired or empty token", ErrAuthenticationFailed)
	}

	m.cred = cred
	if m.config.Cache != nil {
		m.config.Cache.Save(ctx, cred)
	}
	m.log.Info("Refreshed session credential", "expires_at", cred.ExpiresAt)
	return nil
}

// Invalidate drops the credential after an upstream 401
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	if m.config.Cache != nil {
		m.config.Cache.Clear(context.Background())
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	Cookie      string `json:"cookie"`
}

func (m *SessionManager) login(ctx context.Context) (Credential, error) {
	if m.config.Email == "" || m.config.Password == "" {
		return Credential{}, fmt.Errorf("email and password are required for session login")
	}

	body, err := json.Marshal(loginRequest{Email: m.config.Email, Password: m.config.Password})
	if err != nil {
		return Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.AuthURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Credential{}, fmt.Errorf("login failed: status=%d body=%s", resp.StatusCode, respBody)
	}

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Credential{}, fmt.Errorf("decoding login response: %w", err)
	}

	return Credential{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   time.Unix(parsed.ExpiresAt, 0),
		Cookie:      parsed.Cookie,
	}, nil
}
