package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/xroad-metrics/analyzer/internal/config"
	"github.com/xroad-metrics/analyzer/internal/heartbeat"
	"github.com/xroad-metrics/analyzer/internal/logging"
	"github.com/xroad-metrics/analyzer/internal/notifier"
	"github.com/xroad-metrics/analyzer/internal/repository"
)

// app bundles everything a command needs after startup wiring.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	repo   *repository.PostgresRepository
	hb     *heartbeat.Recorder
	pub    *notifier.Publisher

	redisClient *redis.Client
}

// newApp loads configuration, runs migrations and connects the backing
// services. Redis and NATS are optional; when disabled the heartbeat
// recorder and publisher degrade to no-ops.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.Postgres.ConnString()

	logger.Info("Running database migrations")
	m, err := migrate.New("file://"+migrationsPath, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, repo: repo}

	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		a.hb = heartbeat.NewRecorder(a.redisClient, cfg.Redis.TTL)
	} else {
		a.hb = heartbeat.NewRecorder(nil, 0)
	}

	if cfg.NATS.Enabled {
		pub, err := notifier.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.pub = pub
	}

	return a, nil
}

func (a *app) close() {
	if a.pub != nil {
		a.pub.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", slog.String("error", err.Error()))
		}
	}
	a.repo.Close()
}
