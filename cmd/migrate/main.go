// Command migrate manages the Postgres schema.
//
//	migrate up       apply pending migrations
//	migrate down     roll back the latest migration
//	migrate status   list migrations and whether they are applied
//	migrate seed     upsert the course catalog (ENGINE_CATALOG_PATH or the sample)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/bootstrap"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|status|seed")
		os.Exit(2)
	}
	if err := run(ctx, os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != config.StorePostgres {
		return errors.New("migrate requires DATABASE_URL")
	}

	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()
	conn, err := postgres.Connect(connectCtx, cfg.Database.URL, postgres.DefaultPoolSettings())
	if err != nil {
		return err
	}
	defer conn.Close()

	m := postgres.NewMigrator(conn)
	switch cmd {
	case "up":
		n, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", logger.Int("count", n))
	case "down":
		if err := m.Rollback(ctx); err != nil {
			return err
		}
		log.Info("latest migration rolled back")
	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
		for _, mig := range status {
			applied := "-"
			if mig.IsApplied {
				applied = mig.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%03d\t%s\t%s\n", mig.Version, mig.Name, applied)
		}
		return w.Flush()
	case "seed":
		n, err := bootstrap.SeedCatalog(ctx, conn, cfg.Engine.CatalogPath)
		if err != nil {
			return err
		}
		log.Info("catalog seeded", logger.Int("courses", n))
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
