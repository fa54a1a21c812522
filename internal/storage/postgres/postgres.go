// Package postgres implements PostgreSQL-backed storage for Kiongozi using
// GORM. All GORM usage is confined to this package and its sqlite sibling —
// domain types remain ORM-free.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bassmang/kiongozi/internal/orchestrator"
	"github.com/bassmang/kiongozi/internal/storage"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu   sync.Mutex
	runs orchestrator.RunStore
}

// Open connects to PostgreSQL and configures the connection pool.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	slogger.Info("postgres store opened")
	return &Store{db: db, logger: slogger}, nil
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&RunModel{},
		&CheckpointModel{},
		&MessageModel{},
	)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying GORM DB for sub-store construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// Runs returns the run sub-store, created lazily on first access.
func (s *Store) Runs() orchestrator.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = NewRunRepository(s.db)
	}
	return s.runs
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
