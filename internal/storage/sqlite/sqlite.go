// Package sqlite implements the unified Store interface using SQLite via
// GORM. Uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite GORM driver.
//
// WAL mode is enabled by default for concurrent reads; the run models are
// shared with the PostgreSQL backend and GORM's SQLite dialect handles the
// SQL differences transparently.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bassmang/kiongozi/internal/orchestrator"
	"github.com/bassmang/kiongozi/internal/storage"
	pgstore "github.com/bassmang/kiongozi/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path string // Database file path.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	mu   sync.Mutex
	runs orchestrator.RunStore
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path))
	return &Store{db: db, logger: slogger, path: cfg.Path}, nil
}

// Migrate runs GORM AutoMigrate using the same models as the PostgreSQL
// backend.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&pgstore.RunModel{},
		&pgstore.CheckpointModel{},
		&pgstore.MessageModel{},
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

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// Runs returns the run sub-store, created lazily on first access. It
// reuses the PostgreSQL repository implementation over the same models.
func (s *Store) Runs() orchestrator.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = pgstore.NewRunRepository(s.db)
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
