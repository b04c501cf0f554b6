// Package http exposes the gamification engine over REST with fiber. The CRUD
// backend proxies /api/gamificacao to this server.
package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Xeideverme/galpao/internal/application/command"
	"github.com/Xeideverme/galpao/internal/application/query"
	"github.com/Xeideverme/galpao/internal/interface/http/handlers"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// BasePath - prefix of every API route.
	BasePath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the context handed to application handlers.
	RequestTimeout time.Duration

	// BodyLimit - maximum request body size in bytes.
	BodyLimit int

	// AllowedOrigins - comma separated CORS origins.
	AllowedOrigins string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// APIKeyHeader - header carrying the admin key.
	APIKeyHeader string

	// AdminKeys - valid keys for catalog and grant routes. Empty disables the check.
	AdminKeys []string

	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		BasePath:           "/api/gamificacao",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Second,
		BodyLimit:          1 << 20,
		AllowedOrigins:     "*",
		RateLimitPerMinute: 300,
		APIKeyHeader:       "X-API-Key",
		RetryAfter:         5 * time.Second,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Commands
	SubmitEvent *command.SubmitEventHandler
	Catalog     *command.CatalogHandler
	Grant       *command.GrantHandler
	MarkSeen    *command.MarkSeenHandler

	// Queries
	GetProgress          *query.GetProgressHandler
	ListUnlocks          *query.ListUnlocksHandler
	PendingNotifications *query.PendingNotificationsHandler
	GetLeaderboard       *query.GetLeaderboardHandler
	GetCatalog           *query.GetCatalogHandler
	GetStatistics        *query.GetStatisticsHandler

	// Logger
	Logger *logger.Logger

	// HealthChecker backs GET /health.
	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config Config
	deps   Dependencies
	app    *fiber.App
	logger *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.config.BasePath == "" {
		s.config.BasePath = "/api/gamificacao"
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "galpao-gamification",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             config.BodyLimit,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE & ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			s.logger.Error("panic recovered", logger.Any("error", e), logger.String("path", c.Path()))
		},
	}))
	s.app.Use(requestid.New())
	s.app.Use(handlers.RequestLogger(s.logger))
	s.app.Use(handlers.SecurityHeaders())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.config.AllowedOrigins,
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID",
	}))
	if s.config.RateLimitPerMinute > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Max:        s.config.RateLimitPerMinute,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health"
			},
			LimitReached: func(c *fiber.Ctx) error {
				c.Set(fiber.HeaderRetryAfter, "60")
				return writeError(c, fiber.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			},
		}))
	}
	s.app.Use(handlers.Timeout(s.config.RequestTimeout))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group(s.config.BasePath)
	api.Get("/health", s.handleHealth)

	admin := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.AdminKeys).Handler()

	// ─────────────────────────────────────────────────────────────────────────
	// Activity ingestion
	// ─────────────────────────────────────────────────────────────────────────
	api.Post("/events", s.handleSubmitEvent)

	// ─────────────────────────────────────────────────────────────────────────
	// Catalog
	// ─────────────────────────────────────────────────────────────────────────
	api.Get("/conquistas", s.handleListCatalog)
	api.Post("/conquistas", admin, s.handleCreateAchievement)
	api.Patch("/conquistas/:id", admin, s.handleUpdateAchievement)
	api.Delete("/conquistas/:id", admin, s.handleDeactivateAchievement)

	// ─────────────────────────────────────────────────────────────────────────
	// Member
	// ─────────────────────────────────────────────────────────────────────────
	member := api.Group("/aluno/:id", handlers.NoCache())
	member.Get("/", s.handleGetProgress)
	member.Get("/conquistas", s.handleListUnlocks)
	member.Get("/conquistas-pendentes", s.handlePendingNotifications)
	member.Post("/marcar-notificacao-vista", s.handleMarkSeen)
	member.Post("/codigo", s.handleRedeemCode)
	member.Post("/conceder/:achievementId", admin, s.handleGrant)

	// ─────────────────────────────────────────────────────────────────────────
	// Ranking & statistics
	// ─────────────────────────────────────────────────────────────────────────
	api.Get("/ranking", s.handleLeaderboard)
	api.Get("/estatisticas", s.handleStatistics)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.app.Listen(s.config.Address()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
