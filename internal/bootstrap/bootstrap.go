// Package bootstrap builds the runtime shared by the api, worker and migrate
// binaries from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/application"
	"github.com/alem-hub/learning-progress/internal/domain/rules"
	"github.com/alem-hub/learning-progress/internal/infrastructure/gameconfig"
	"github.com/alem-hub/learning-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/learning-progress/pkg/circuitbreaker"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// NewLogger builds the process logger from the observability config.
func NewLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output:      os.Stdout,
		Level:       logger.ParseLevel(cfg.Observability.LogLevel),
		Development: cfg.Observability.LogFormat == "console",
		AddCaller:   true,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Runtime owns the stores, the event bus and the application graph.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	Rules  rules.Rules
	Bus    *messaging.InMemoryEventBus
	App    *application.App
	Checks []Check

	// Postgres is nil with the memory store.
	Postgres *postgres.Connection
	// Memory is nil with the postgres store.
	Memory *memory.Store
	// Cache is nil when Redis is disabled.
	Cache *redis.Cache

	closers []func() error
}

// Open connects every configured backend and wires the application.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: log}
	if err := rt.open(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg, log := rt.Config, rt.Logger

	r, err := gameconfig.Load(cfg.Engine.RulesPath)
	if err != nil {
		return err
	}
	rt.Rules = r

	var stores application.Stores
	switch cfg.Database.Driver {
	case config.StorePostgres:
		if stores, err = rt.openPostgres(ctx); err != nil {
			return err
		}
	case config.StoreMemory:
		if stores, err = rt.openMemory(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}

	if !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureLeaderboardCache) {
		cache, err := rt.openRedis(ctx)
		if err != nil {
			// The cache is optional; reads fall back to the store.
			log.Warn("redis unavailable, leaderboard cache disabled", logger.Err(err))
		} else {
			breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			})
			stores.LeaderboardCache = redis.NewLeaderboardCache(cache, breaker)
		}
	}

	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	rt.Bus = messaging.NewInMemoryEventBus(busCfg)
	rt.closers = append(rt.closers, rt.Bus.Close)
	if err := messaging.SubscribeAudit(rt.Bus, log); err != nil {
		return err
	}
	if stores.LeaderboardCache != nil {
		if err := messaging.SubscribeLeaderboardInvalidation(rt.Bus, stores.LeaderboardCache); err != nil {
			return err
		}
	}

	rt.App = application.New(stores, application.Options{
		Rules:          r,
		Clock:          timeutil.SystemClock{},
		Calendar:       timeutil.NewCalendar(cfg.App.Location),
		Publisher:      rt.Bus,
		Logger:         log,
		LeaderboardTTL: cfg.Engine.LeaderboardTTL,
	})
	return nil
}

func (rt *Runtime) openPostgres(ctx context.Context) (application.Stores, error) {
	db := rt.Config.Database
	settings := postgres.DefaultPoolSettings()
	settings.MaxConns = int32(db.MaxConns)
	settings.MinConns = int32(db.MinConns)
	settings.MaxConnLifetime = db.MaxConnLifetime
	settings.MaxConnIdleTime = db.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, db.ConnectTimeout)
	defer cancel()
	conn, err := postgres.Connect(connectCtx, db.URL, settings)
	if err != nil {
		return application.Stores{}, err
	}
	rt.Postgres = conn
	rt.closers = append(rt.closers, func() error { conn.Close(); return nil })
	rt.Checks = append(rt.Checks, Check{Name: "postgres", Fn: conn.Ping})

	repos := postgres.NewRepositories(conn)
	return application.Stores{
		Progress:     repos.Progress,
		Catalog:      repos.Catalog,
		Streaks:      repos.Streaks,
		Ledger:       repos.Ledger,
		Achievements: repos.Achievements,
		Learners:     repos.Learners,
		Leaderboard:  repos.Leaderboard,
	}, nil
}

func (rt *Runtime) openMemory() (application.Stores, error) {
	courses, err := gameconfig.LoadCourses(rt.Config.Engine.CatalogPath)
	if err != nil {
		return application.Stores{}, err
	}
	store := memory.New()
	for _, c := range courses {
		store.PutCourse(c.ID, c.DomainLessons()...)
	}
	rt.Memory = store
	rt.Logger.Warn("using in-memory store, data is lost on exit", logger.Int("courses", len(courses)))

	return application.Stores{
		Progress:     store,
		Catalog:      store,
		Streaks:      store.Streaks(),
		Ledger:       store,
		Achievements: store,
		Learners:     store,
		Leaderboard:  store,
	}, nil
}

func (rt *Runtime) openRedis(ctx context.Context) (*redis.Cache, error) {
	rc := rt.Config.Redis
	cfg := redis.DefaultConfig()
	cfg.Addr = rc.Addr
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	cfg.PoolSize = rc.PoolSize
	cfg.MinIdleConns = rc.MinIdleConns
	cfg.DialTimeout = rc.DialTimeout
	cfg.ReadTimeout = rc.ReadTimeout
	cfg.WriteTimeout = rc.WriteTimeout

	cache, err := redis.NewCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Cache = cache
	rt.closers = append(rt.closers, cache.Close)
	rt.Checks = append(rt.Checks, Check{Name: "redis", Fn: cache.Ping})
	return cache, nil
}

// SeedCatalog upserts the configured course catalog into Postgres.
func SeedCatalog(ctx context.Context, conn *postgres.Connection, path string) (int, error) {
	courses, err := gameconfig.LoadCourses(path)
	if err != nil {
		return 0, err
	}
	catalog := postgres.NewCatalogRepository(conn)
	for _, c := range courses {
		if err := catalog.UpsertCourse(ctx, c.ID, c.Title, c.DomainLessons()); err != nil {
			return 0, fmt.Errorf("seed course %s: %w", c.ID, err)
		}
	}
	return len(courses), nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
