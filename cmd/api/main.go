// Command api serves the learning progress HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/bootstrap"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/postgres"
	httpapi "github.com/alem-hub/learning-progress/internal/interface/http"
	"github.com/alem-hub/learning-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()
	log.Info("starting api",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("store", string(cfg.Database.Driver)),
		logger.String("timezone", cfg.App.Timezone),
	)

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("runtime close failed", logger.Err(err))
		}
	}()

	if rt.Postgres != nil && cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(rt.Postgres).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		log.Info("migrations applied", logger.Int("count", applied))
	}

	var verifier *handlers.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = handlers.NewTokenVerifier(cfg.Auth.JWTSecret, handlers.TokenOptions{
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			Leeway:   cfg.Auth.Leeway,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn("JWT_SECRET is empty, authenticated routes will reject every request")
	}

	health := handlers.NewHealthChecker(cfg.App.Version)
	for _, check := range rt.Checks {
		health.AddCheck(check.Name, check.Fn)
	}

	server := httpapi.NewServer(httpapi.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		InternalToken:  cfg.HTTP.InternalToken,
		Version:        cfg.App.Version,
	}, httpapi.Dependencies{
		App:      rt.App,
		Verifier: verifier,
		Health:   health,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("api stopped")
	return nil
}
