package storage

import (
	"context"
	"fmt"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store is the full surface every backend implements: the engine's config,
// record and link ports plus loading and inspection helpers.
type Store interface {
	tolerance.Store
	fetcher.Source
	FetchBalances(ctx context.Context, groupKeys, lineKeys []string) (models.Balances, error)
	FetchThreeWay(ctx context.Context, lineKeys []string) (map[string]models.ThreeWayStatus, error)
	WriteLinksTransactional(ctx context.Context, batch models.LinkBatch, check validator.CheckFunc) (bool, []models.Violation, error)
	WriteEvent(ctx context.Context, event models.MatchEvent) error

	Seed(ctx context.Context, data models.Dataset) error
	PutTolerances(ctx context.Context, overrides []tolerance.ScopeOverride) error
	GetTarget(ctx context.Context, id string) (models.Target, error)
	Links(ctx context.Context, targetID string) ([]models.Link, error)
	Events(ctx context.Context, targetID string) ([]models.MatchEvent, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Config selects and configures a backend.
type Config struct {
	Driver      Driver `json:"driver" mapstructure:"driver"`
	SQLitePath  string `json:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresURL string `json:"postgres_url" mapstructure:"postgres_url"`
	MaxConns    int32  `json:"max_conns" mapstructure:"max_conns"`
}

// DefaultConfig uses the in-memory backend.
func DefaultConfig() Config {
	return Config{
		Driver:     DriverMemory,
		SQLitePath: "reconciler.db",
		MaxConns:   10,
	}
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Driver)
	}
	return nil
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidConfig("storage.driver", cfg.Driver, err)
	}

	log = logger.OrNop(log)
	log.WithField("driver", string(cfg.Driver)).Debug("Opening store")

	switch cfg.Driver {
	case DriverSQLite:
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, errors.StoreUnavailable("open_sqlite", err)
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresURL, cfg.MaxConns, log)
		if err != nil {
			return nil, errors.StoreUnavailable("open_postgres", err)
		}
		return s, nil
	default:
		return NewMemoryStore(), nil
	}
}
