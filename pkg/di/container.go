package di

import (
	"context"
	"time"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/internal/service"
	"chatgpt-ui-server/backend/internal/store"
	"chatgpt-ui-server/backend/pkg/cache"
	"chatgpt-ui-server/backend/pkg/config"
	"chatgpt-ui-server/backend/pkg/jwt"
	"chatgpt-ui-server/backend/pkg/logger"
	sharedredis "chatgpt-ui-server/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config

	JWTService  *jwt.Service
	UserService *service.UserService
	ChatService *service.ChatService

	ConversationStore store.ConversationStore
	PromptStore       store.PromptStore
	SettingStore      store.SettingStore

	Redis       *sharedredis.Client
	Cache       *cache.Cache
	APIKeys     *service.APIKeySource
	Credentials chatgpt.CredentialManager
}

// New wires the application graph. The completion backend is chosen by
// configuration: the official API path authenticates with a resolved
// API key, the unofficial path with a Redis-cached session credential.
func New(db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	conversationStore := store.NewGormConversationStore(db)
	promptStore := store.NewGormPromptStore(db)
	settingStore := store.NewGormSettingStore(db)

	memCache := cache.NewCache()
	redisClient := sharedredis.NewClient(cfg.Redis.URL)

	apiKeys := service.NewAPIKeySource(cfg.OpenAI.APIKey, settingStore, memCache, log)

	profile := llm.DefaultProfile()
	if cfg.OpenAI.Model != "" {
		profile.Name = cfg.OpenAI.Model
	}

	var (
		sessionManager chatgpt.CredentialManager
		official       *chatgpt.OfficialClient
		unofficial     *chatgpt.UnofficialClient
	)

	// The official client backs title generation on either path, so it
	// is always constructed. It resolves its key through apiKeys on
	// every request; the probe here only surfaces misconfiguration at
	// boot instead of on the first chat turn.
	probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := apiKeys.Resolve(probeCtx); err != nil {
		log.Warn("No OpenAI API key resolved at startup; official requests will fail until one is configured", "error", err.Error())
	}
	cancel()
	official = chatgpt.NewOfficialClient(apiKeys, cfg.OpenAI.ProxyURL, profile.Name, log)

	if cfg.ChatGPT.Backend == config.BackendUnofficial {
		session := chatgpt.NewSessionManager(chatgpt.SessionConfig{
			Email:    cfg.ChatGPT.Email,
			Password: cfg.ChatGPT.Password,
			AuthURL:  cfg.ChatGPT.AuthURL,
			Proxy:    cfg.ChatGPT.Proxy,
			Cache:    chatgpt.NewRedisCredentialCache(redisClient, log),
		}, log)
		sessionManager = session
		unofficial = chatgpt.NewUnofficialClient(session, chatgpt.UnofficialConfig{
			BaseURL:        cfg.ChatGPT.BaseURL,
			Proxy:          cfg.ChatGPT.Proxy,
			PassModeration: cfg.ChatGPT.PassModeration,
		}, log)
	} else {
		// The official path has no session to refresh; retries re-resolve
		// the API key instead.
		sessionManager = chatgpt.NewStaticKey("")
	}

	streamRelay := relay.New(conversationStore, log)
	titles := relay.NewTitleGenerator(official, conversationStore, log)

	chatService := service.NewChatService(service.ChatServiceDeps{
		Store:      conversationStore,
		Builder:    llm.NewContextBuilder(profile),
		Profile:    profile,
		Official:   official,
		Unofficial: unofficial,
		Session:    sessionManager,
		Backend:    cfg.ChatGPT.Backend,
		Relay:      streamRelay,
		Titles:     titles,
		Logger:     log,
	})

	return &Container{
		DB:                db,
		Logger:            log,
		Config:            cfg,
		JWTService:        jwtService,
		UserService:       service.NewUserService(db),
		ChatService:       chatService,
		ConversationStore: conversationStore,
		PromptStore:       promptStore,
		SettingStore:      settingStore,
		Redis:             redisClient,
		Cache:             memCache,
		APIKeys:           apiKeys,
		Credentials:       sessionManager,
	}, nil
}
