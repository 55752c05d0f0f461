package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config satisfies the go-persistence-bun client configuration.
type Config struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
	Identifier  string
}

func (c Config) GetDebug() bool { return c.Debug }

func (c Config) GetDriver() string { return c.Driver }

func (c Config) GetServer() string { return c.DSN }

func (c Config) GetOtelIdentifier() string {
	if c.Identifier == "" {
		return "go-collab"
	}
	return c.Identifier
}

func (c Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

// Open builds a persistence client for the configured driver. Postgres uses
// lib/pq with the pg dialect; sqlite uses mattn/go-sqlite3.
func Open(cfg Config) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialect schema.Dialect
	switch driver {
	case DriverPostgres:
		dialect = pgdialect.New()
	case DriverSQLite, "sqlite":
		driver = DriverSQLite
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	cfg.Driver = driver
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

func OpenPostgres(dsn string) (*persistence.Client, error) {
	return Open(Config{Driver: DriverPostgres, DSN: dsn})
}

func OpenSQLite(dsn string) (*persistence.Client, error) {
	return Open(Config{Driver: DriverSQLite, DSN: dsn})
}

// RepositoryFactory builds the bun-backed stores from a persistence client
// or a bare *bun.DB.
type RepositoryFactory struct {
	db *bun.DB

	keyValueStore       *KeyValueStore
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory(persistenceClient any) (*RepositoryFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	keyValueStore, err := NewKeyValueStore(db)
	if err != nil {
		return nil, err
	}
	rateLimitStateStore, err := NewRateLimitStateStore(db)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{
		db:                  db,
		keyValueStore:       keyValueStore,
		rateLimitStateStore: rateLimitStateStore,
	}, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) KeyValueStore() *KeyValueStore {
	if f == nil {
		return nil
	}
	return f.keyValueStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

// Cached wraps the factory stores in read-through caches backed by
// cacheService.
func (f *RepositoryFactory) Cached(cacheService repositorycache.CacheService) (*CachedKeyValueStore, *CachedRateLimitStateStore, error) {
	if f == nil {
		return nil, nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	keyValues, err := NewCachedKeyValueStore(f.keyValueStore, cacheService)
	if err != nil {
		return nil, nil, err
	}
	states, err := NewCachedRateLimitStateStore(f.rateLimitStateStore, cacheService)
	if err != nil {
		return nil, nil, err
	}
	return keyValues, states, nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
