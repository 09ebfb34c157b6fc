package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkantrust/geocrud-api/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect creates a PostgreSQL connection pool and pings it.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
	)

	return pool, nil
}

// Migrate applies the embedded SQL migrations. Running it against an up to
// date schema is a no-op.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// Open builds the engine selected by cfg.Store. The postgres engine expects
// the schema to be migrated already.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store {
	case config.StoreBolt:
		s, err := NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt database %s: %w", cfg.BoltPath, err)
		}
		logger.Info("opened bolt database", slog.String("path", cfg.BoltPath))
		return s, nil
	case config.StorePostgres:
		pool, err := Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Pinger is the subset of Store the readiness check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker reports whether the storage engine answers.
type ReadinessChecker struct {
	store Pinger
}

// NewReadinessChecker creates a readiness check for the given engine.
func NewReadinessChecker(s Pinger) *ReadinessChecker {
	return &ReadinessChecker{store: s}
}

// CheckReady pings the engine. Returns status ("ok", "fail") and a message.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("store unavailable: %v", err)
	}
	return "ok", "store reachable"
}
