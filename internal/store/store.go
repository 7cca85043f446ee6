// Package store persists users and chat histories in SQLite through gorm.
package store

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects and tunes the database file.
type Config struct {
	Path          string
	BusyTimeoutMs int
	WAL           bool
	// ReadOnly opens the file without migrating it.
	ReadOnly bool
}

func DefaultConfig() Config {
	return Config{
		Path:          "bigseek_bot_data.db",
		BusyTimeoutMs: 5000,
		WAL:           true,
	}
}

// DB is an open database with its repositories.
type DB struct {
	gdb *gorm.DB

	Users   *UserRepository
	History *HistoryRepository
}

// Open connects to the SQLite file at cfg.Path and migrates the schema
// unless cfg.ReadOnly is set.
func Open(cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("empty database path")
	}

	gdb, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if !cfg.ReadOnly {
		if err := AutoMigrate(gdb); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	now := time.Now
	return &DB{
		gdb:     gdb,
		Users:   &UserRepository{db: gdb, now: now},
		History: &HistoryRepository{db: gdb},
	}, nil
}

// AutoMigrate creates or updates the tables.
func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	if err := gdb.AutoMigrate(&User{}, &ChatHistory{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	sqlDB, err := d.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dsn(cfg Config) string {
	q := url.Values{}
	if cfg.BusyTimeoutMs > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMs))
	}
	if cfg.WAL && !cfg.ReadOnly {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if cfg.ReadOnly {
		q.Add("mode", "ro")
		return "file:" + cfg.Path + "?" + q.Encode()
	}
	if len(q) == 0 {
		return cfg.Path
	}
	return cfg.Path + "?" + q.Encode()
}
