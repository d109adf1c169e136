package router

import (
	"chatgpt-ui-server/backend/internal/api"
	"chatgpt-ui-server/backend/internal/ws"
	"chatgpt-ui-server/backend/pkg/config"
	"chatgpt-ui-server/backend/pkg/di"
	"chatgpt-ui-server/backend/pkg/errors"
	"chatgpt-ui-server/backend/pkg/jwt"
	"chatgpt-ui-server/backend/pkg/logger"
	"chatgpt-ui-server/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	// Use the container's logger
	logger.SetGlobal(container.Logger)

	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request IDs first so every later middleware and log line carries one
	engine.Use(middleware.RequestIDMiddleware())

	// Use the logger middleware to capture all requests
	engine.Use(logger.Middleware(container.Logger))

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	// Apply rate limiting to all routes
	rateLimiter := middleware.NewRateLimiter(container.Logger)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware())

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	authHandler := api.NewAuthHandler(r.Container.UserService, r.Container.JWTService, r.Logger)
	chatHandler := api.NewChatHandler(r.Container.ChatService, r.Logger)
	conversationHandler := api.NewConversationHandler(r.Container.ConversationStore, r.Logger)
	promptHandler := api.NewPromptHandler(r.Container.PromptStore, r.Logger)
	wsHandler := ws.NewHandler(r.Container.ChatService, r.Container.JWTService, r.Logger)

	r.setupHealthRoutes()

	v1 := r.Engine.Group("/api/v1")

	// Public routes (no auth required)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/signup", authHandler.Signup)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.GET("/me", jwtAuth, authHandler.Me)
	}

	// Protected routes (require authentication)
	protected := v1.Group("/")
	protected.Use(jwtAuth)
	{
		adminRoutes := protected.Group("/admin")
		adminRoutes.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			adminRoutes.PUT("/users/:id/role", authHandler.UpdateUserRole)
		}

		chatRoutes := protected.Group("/chat")
		{
			chatRoutes.POST("/conversation", chatHandler.Send)
			chatRoutes.POST("/gen_title", chatHandler.GenerateTitle)
		}

		conversationRoutes := protected.Group("/conversations")
		{
			conversationRoutes.GET("", conversationHandler.List)
			conversationRoutes.DELETE("", conversationHandler.DeleteAll)
			conversationRoutes.GET("/:id/messages", conversationHandler.Messages)
			conversationRoutes.PUT("/:id", conversationHandler.UpdateTopic)
			conversationRoutes.DELETE("/:id", conversationHandler.Delete)
		}

		promptRoutes := protected.Group("/prompts")
		{
			promptRoutes.GET("", promptHandler.List)
			promptRoutes.POST("", promptHandler.Create)
			promptRoutes.DELETE("", promptHandler.DeleteAll)
			promptRoutes.PUT("/:id", promptHandler.Update)
			promptRoutes.DELETE("/:id", promptHandler.Delete)
		}
	}

	// WebSocket chat endpoint; authenticates inside the handler because
	// browsers cannot set headers on the upgrade request
	r.Engine.GET("/ws", wsHandler.Serve)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		if origin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
