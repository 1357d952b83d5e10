package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown database driver")

type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	LogSQL       bool
}

type Storage struct {
	db *gorm.DB
}

func New(cfg Config) (*Storage, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		slog.Error("storage: Unknown database driver", "driver", cfg.Driver)
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}

	logLevel := logger.Silent
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		slog.Error("storage: Failed to connect to database", "error", err, "driver", cfg.Driver)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("storage: Failed to get connection pool", "error", err)
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}

	if cfg.Driver == DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	} else {
		// SQLite serializes writers anyway and every connection of an in-memory
		// database would otherwise see its own schema.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			slog.Error("storage: Failed to enable foreign keys", "error", err)
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return &Storage{db: db}, nil
}

// Migrate brings the schema up to date and imports data left by the old mention bot schema.
func (s *Storage) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	err := db.AutoMigrate(&Chat{}, &User{}, &ChatMember{}, &Group{}, &GroupMember{}, &ChatMessage{})
	if err != nil {
		slog.Error("storage: Failed to migrate database", "error", err)
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := s.importLegacy(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get connection pool: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		slog.Error("storage: Failed to close database", "error", err)
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
