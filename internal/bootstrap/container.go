// Package bootstrap wires the engine's stores, buses and handlers from
// configuration. cmd/api, cmd/worker and cmd/seed all build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Xeideverme/galpao/config"
	"github.com/Xeideverme/galpao/internal/application/command"
	"github.com/Xeideverme/galpao/internal/application/criteria"
	"github.com/Xeideverme/galpao/internal/application/eventhandler"
	"github.com/Xeideverme/galpao/internal/application/query"
	"github.com/Xeideverme/galpao/internal/application/saga"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/internal/infrastructure/messaging"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/memory"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/mongo"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/postgres"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/redis"
	httpserver "github.com/Xeideverme/galpao/internal/interface/http"
	"github.com/Xeideverme/galpao/internal/interface/http/handlers"
	"github.com/Xeideverme/galpao/pkg/circuitbreaker"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// Container holds every wired component. Optional parts are nil when their
// backing service is not configured.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  shared.Clock

	// Stores
	Catalog   achievement.Repository
	Unlocks   achievement.UnlockRepository
	Ledger    progress.Repository
	Standings leaderboard.Repository
	Members   member.Source

	// Redis; nil when disabled or unreachable.
	Redis            *redis.Cache
	LeaderboardCache leaderboard.Cache

	Bus  shared.EventBus
	Flow *saga.UnlockFlowSaga

	// Commands
	SubmitEvent *command.SubmitEventHandler
	CatalogCmd  *command.CatalogHandler
	Grant       *command.GrantHandler
	MarkSeen    *command.MarkSeenHandler

	// Queries
	GetProgress          *query.GetProgressHandler
	ListUnlocks          *query.ListUnlocksHandler
	PendingNotifications *query.PendingNotificationsHandler
	GetLeaderboard       *query.GetLeaderboardHandler
	GetCatalog           *query.GetCatalogHandler
	GetStatistics        *query.GetStatisticsHandler

	Health *handlers.CompositeHealthChecker

	closers []func()
}

// New connects to every configured backend and wires the application layer.
// On error, whatever was opened is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (c *Container, err error) {
	if log == nil {
		log = logger.Default()
	}
	c = &Container{
		Config: cfg,
		Logger: log,
		Clock:  shared.SystemClock,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ENGINE STORE (postgres or memory)
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.openStore(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. COLLABORATOR STORE (mongo, read-only)
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.openMembers(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	c.openRedis(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	if err = c.openBus(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	c.wireApplication()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	subscribers := []eventhandler.Subscriber{
		eventhandler.NewOnAchievementUnlockedHandler(log.Slog()),
	}
	if c.LeaderboardCache != nil {
		onProgress := eventhandler.NewOnProgressChangedHandler(
			c.LeaderboardCache,
			eventhandler.DefaultProgressChangedConfig(),
			c.Clock,
			log.Slog(),
		)
		c.closers = append(c.closers, onProgress.Stop)
		subscribers = append(subscribers, onProgress)
	}
	if err = eventhandler.Register(c.Bus, subscribers...); err != nil {
		return nil, fmt.Errorf("register event handlers: %w", err)
	}

	log.Info("container ready",
		logger.String("store", cfg.Database.Driver),
		logger.Bool("redis", c.Redis != nil),
		logger.Bool("mongo", cfg.Mongo.URI != ""),
	)
	return c, nil
}

func (c *Container) openStore(ctx context.Context) error {
	cfg := c.Config.Database

	if cfg.Driver == config.StoreMemory {
		c.Logger.Warn("using in-memory engine store; data is lost on restart")
		store := memory.NewStore(memory.WithHistorySize(c.Config.Gamification.HistorySize))
		c.Catalog = store.Catalog()
		c.Unlocks = store.Unlocks()
		c.Ledger = store.Progress()
		c.Standings = store.Leaderboard()
		c.Health.AddCheck("store", handlers.NewPingCheck(store))
		return nil
	}

	c.Logger.Info("connecting to database...")
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.QueryTimeout = cfg.QueryTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.closers = append(c.closers, func() {
		c.Logger.Info("closing database connection...")
		conn.Close()
	})

	if cfg.AutoMigrate {
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if status, err := migrator.Status(ctx); err != nil {
			c.Logger.Warn("failed to get migration status", logger.Err(err))
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			c.Logger.Info("migrations completed", logger.Int("applied", applied), logger.Int("total", len(status)))
		}
	}

	c.Catalog = postgres.NewCatalogRepository(conn)
	c.Unlocks = postgres.NewUnlockRepository(conn)
	c.Ledger = postgres.NewProgressRepository(conn, c.Config.Gamification.HistorySize)
	c.Standings = postgres.NewLeaderboardRepository(conn)
	c.Health.AddCheck("postgres", handlers.NewPingCheck(conn))
	return nil
}

func (c *Container) openMembers(ctx context.Context) error {
	cfg := c.Config.Mongo

	if cfg.URI == "" {
		c.Logger.Warn("MONGO_URL not set; using an empty in-memory member source")
		src := memory.NewMemberSource()
		c.Members = src
		c.Health.AddCheck("members", handlers.NewPingCheck(src))
		return nil
	}

	c.Logger.Info("connecting to collaborator store...")
	client, db, err := mongo.Connect(ctx, mongo.Config{
		URI:            cfg.URI,
		Database:       cfg.Database,
		ConnectTimeout: cfg.ConnectTimeout,
		QueryTimeout:   cfg.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}
	c.closers = append(c.closers, func() {
		c.Logger.Info("closing mongo connection...")
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	})

	log := c.Logger
	breaker := circuitbreaker.New(
		"collaborator-store",
		circuitbreaker.WithFailureThreshold(cfg.BreakerThreshold),
		circuitbreaker.WithSuccessThreshold(1),
		circuitbreaker.WithOpenTimeout(cfg.BreakerTimeout),
		circuitbreaker.WithMaxHalfOpenRequests(1),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)

	src := mongo.NewMemberSource(db, breaker, cfg.QueryTimeout)
	c.Members = src
	c.Health.AddCheck("mongo", handlers.NewPingCheck(src))
	return nil
}

func (c *Container) openRedis(ctx context.Context) {
	cfg := c.Config.Redis
	if cfg.Disabled {
		c.Logger.Info("redis disabled; ranking cache, job locks and event relay are off")
		return
	}

	rcfg := redis.DefaultConfig()
	rcfg.URL = cfg.URL
	rcfg.Host = cfg.Host
	rcfg.Port = cfg.Port
	rcfg.Password = cfg.Password
	rcfg.DB = cfg.DB
	rcfg.PoolSize = cfg.PoolSize
	rcfg.MinIdleConns = cfg.MinIdleConns
	rcfg.DialTimeout = cfg.DialTimeout
	rcfg.ReadTimeout = cfg.ReadTimeout
	rcfg.WriteTimeout = cfg.WriteTimeout

	c.Logger.Info("connecting to Redis...")
	cache, err := redis.NewCache(rcfg)
	if err != nil {
		c.Logger.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		return
	}
	c.closers = append(c.closers, func() { _ = cache.Close() })
	c.Redis = cache
	c.Health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))

	lc := redis.NewLeaderboardCache(cache, c.Config.Gamification.LeaderboardCacheTTL)
	c.LeaderboardCache = &toggledCache{
		Cache:   lc,
		enabled: c.Config.Features.Toggle(config.FeatureLeaderboardCache),
	}
	c.Logger.Info("Redis connection established")
}

func (c *Container) openBus(ctx context.Context) error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = c.Logger.Slog()

	if c.Redis != nil && c.Config.Features.IsEnabled(config.FeatureEventRelay, nil) {
		host, _ := os.Hostname()
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:     c.Redis.Client(),
			InstanceID: fmt.Sprintf("%s-%d", host, os.Getpid()),
			Local:      local,
			Logger:     c.Logger.Slog(),
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		c.Bus = bus
		c.closers = append(c.closers, func() {
			c.Logger.Info("closing event bus...")
			_ = bus.Close()
		})
		return nil
	}

	bus := messaging.NewInMemoryEventBus(local)
	c.Bus = bus
	c.closers = append(c.closers, func() {
		c.Logger.Info("closing event bus...")
		_ = bus.Close()
	})
	return nil
}

func (c *Container) wireApplication() {
	log := c.Logger
	features := c.Config.Features

	evaluator := criteria.NewEvaluator(c.Members, c.Ledger, c.Clock, log)
	c.Flow = saga.NewUnlockFlowSaga(
		c.Catalog,
		c.Unlocks,
		c.Ledger,
		evaluator,
		c.Bus,
		c.Clock,
		log,
		saga.DefaultUnlockFlowConfig(),
	)

	c.SubmitEvent = command.NewSubmitEventHandler(c.Members, c.Flow, c.Clock, log)
	c.CatalogCmd = command.NewCatalogHandler(c.Catalog, c.Bus, c.Clock, log)
	c.Grant = command.NewGrantHandler(command.GrantHandlerDeps{
		Catalog:       c.Catalog,
		Members:       c.Members,
		Ledger:        c.Ledger,
		Flow:          c.Flow,
		RedeemEnabled: features.Toggle(config.FeatureSecretCodeRedemption),
		Logger:        log,
	})
	c.MarkSeen = command.NewMarkSeenHandler(c.Unlocks, c.Clock)

	c.GetProgress = query.NewGetProgressHandler(c.Members, c.Ledger, log)
	c.ListUnlocks = query.NewListUnlocksHandler(c.Unlocks)
	c.PendingNotifications = query.NewPendingNotificationsHandler(c.Unlocks)
	c.GetLeaderboard = query.NewGetLeaderboardHandler(c.Standings, c.Members, c.LeaderboardCache, c.Clock, log)
	c.GetCatalog = query.NewGetCatalogHandler(c.Catalog)
	c.GetStatistics = query.NewGetStatisticsHandler(c.Catalog, c.Unlocks, c.Ledger)
}

// HTTPDependencies returns the handler set for the REST server.
func (c *Container) HTTPDependencies() httpserver.Dependencies {
	return httpserver.Dependencies{
		SubmitEvent:          c.SubmitEvent,
		Catalog:              c.CatalogCmd,
		Grant:                c.Grant,
		MarkSeen:             c.MarkSeen,
		GetProgress:          c.GetProgress,
		ListUnlocks:          c.ListUnlocks,
		PendingNotifications: c.PendingNotifications,
		GetLeaderboard:       c.GetLeaderboard,
		GetCatalog:           c.GetCatalog,
		GetStatistics:        c.GetStatistics,
		Logger:               c.Logger,
		HealthChecker:        c.Health,
	}
}

// HTTPConfig maps configuration onto the server's config.
func (c *Container) HTTPConfig() httpserver.Config {
	cfg := httpserver.DefaultConfig()
	h := c.Config.HTTP
	cfg.Host = h.Host
	cfg.Port = h.Port
	cfg.BasePath = h.BasePath
	cfg.ReadTimeout = h.ReadTimeout
	cfg.WriteTimeout = h.WriteTimeout
	cfg.RequestTimeout = h.RequestTimeout
	cfg.AllowedOrigins = h.AllowedOrigins
	cfg.RateLimitPerMinute = h.RateLimitPerMinute
	cfg.AdminKeys = h.AdminKeys
	return cfg
}

// Close releases every backend in reverse order of opening.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// toggledCache turns the ranking cache into a permanent miss while the
// leaderboard.cache flag is off. Invalidation always goes through so a
// re-enabled cache never serves stale rows.
type toggledCache struct {
	leaderboard.Cache
	enabled func() bool
}

func (t *toggledCache) Get(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Row, bool, error) {
	if !t.enabled() {
		return nil, false, nil
	}
	return t.Cache.Get(ctx, period, limit)
}

func (t *toggledCache) Set(ctx context.Context, period leaderboard.Period, limit int, rows []leaderboard.Row) error {
	if !t.enabled() {
		return nil
	}
	return t.Cache.Set(ctx, period, limit, rows)
}

// errNoRedis is returned by components that need Redis when it is off.
var errNoRedis = errors.New("redis is not configured")

// NewLogger builds the process logger from configuration and installs it as
// the slog default.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
		opts.AddSource = true
	}
	log := logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	slog.SetDefault(log.Slog())
	return log
}
