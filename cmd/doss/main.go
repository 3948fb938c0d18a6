package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/doss/internal/api"
	"github.com/seantiz/doss/internal/config"
	"github.com/seantiz/doss/internal/engine"
	"github.com/seantiz/doss/internal/events"
	"github.com/seantiz/doss/internal/retention"
	"github.com/seantiz/doss/internal/services/benchmark"
	"github.com/seantiz/doss/internal/services/datastore"
	"github.com/seantiz/doss/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("doss: %v", err)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("doss: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"state_backend", cfg.StateBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var state store.StateStore = db
	if cfg.StateBackend == config.StateBackendRedis {
		rs, err := store.NewRedisStateStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rs.Close()
		state = rs
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer np.Close()
		publisher = np
		logger.Info("publishing invocation events", "nats_url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	reg := engine.NewRegistry()
	if err := reg.Register(datastore.Definition()); err != nil {
		return err
	}
	if err := reg.Register(benchmark.Definition()); err != nil {
		return err
	}

	eng := engine.NewEngine(db, state, reg, logger, engine.Options{
		Timeout:   cfg.InvocationTimeout,
		Publisher: publisher,
	})
	if err := eng.Recover(ctx); err != nil {
		return err
	}

	if cfg.JournalRetention > 0 {
		pruner, err := retention.NewPruner(db, cfg.JournalRetention, cfg.PruneInterval, logger)
		if err != nil {
			return err
		}
		pruner.Start()
		defer func() {
			if err := pruner.Stop(); err != nil {
				logger.Error("stop pruner", "error", err)
			}
		}()
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)
	return srv.Run(ctx)
}
