// Package persistence implements the repositories, usage ledger and event log
// on top of GORM.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// Database is an open gorm handle plus the pool beneath it
type Database struct {
	DB   *gorm.DB
	pool *sql.DB
}

// Options controls logging and tracing of a new connection
type Options struct {
	Logger    *zap.Logger
	LogLevel  gormlogger.LogLevel
	LogSQL    bool
	SlowQuery time.Duration
	Tracing   telemetry.DBTracingConfig
}

// NewDatabase opens a postgres connection, applies pool settings and pings it
func NewDatabase(cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, opts)
}

// Open opens a connection through any dialector. Tests pass sqlite or sqlmock dialectors.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	zl := opts.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	gl := logger.NewGormLogger(zl, logger.GormConfig{
		Level:         opts.LogLevel,
		SlowThreshold: opts.SlowQuery,
		LogSQL:        opts.LogSQL,
	})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := telemetry.RegisterDBTracing(db, opts.Tracing, zl); err != nil {
		return nil, fmt.Errorf("register database tracing: %w", err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}
	if cfg != nil {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
		pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}
	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Database{DB: db, pool: pool}, nil
}

func (d *Database) Close() error { return d.pool.Close() }

// Ping backs the readiness check
func (d *Database) Ping(ctx context.Context) error { return d.pool.PingContext(ctx) }

// Stats reports connection pool usage
func (d *Database) Stats() sql.DBStats { return d.pool.Stats() }

// Transaction runs fn in a transaction bound to ctx. fn's error rolls it back
// and is returned unchanged.
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// notFound maps gorm's missing-row error onto the domain sentinel
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
