// Package store persists documents, series counters and batches with gorm.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rezonia/cpe-emitter/internal/observability"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store wraps the gorm handle shared by the repository
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to the configured database
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	log = observability.OrNop(log)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: observability.NewGormLogger(log, observability.DefaultGormLoggerConfig()),
		// the sqlite driver has no error translator; see isDuplicate
		TranslateError: normalizeDriver(driver) == DriverPostgres,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if normalizeDriver(driver) == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// sqlite has a single writer; funnel everything through one connection
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db, log: log}, nil
}

// New wraps an existing gorm handle
func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: observability.OrNop(log)}
}

// Migrate creates or updates every table
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.log.Info("database migrated", zap.Int("tables", len(Models())))
	return nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB exposes the gorm handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch normalizeDriver(driver) {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}
