//go:build integration

// Package integration runs the persistence layer against a real PostgreSQL
// started with testcontainers.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meterly/backend/internal/infrastructure/migration"
	"github.com/meterly/backend/migrations"
)

var (
	sharedOnce sync.Once
	sharedDSN  string
	sharedErr  error
)

// TestDB is a migrated connection to the shared container
type TestDB struct {
	DB  *gorm.DB
	DSN string
}

// NewTestDB returns a connection to a migrated database. The container is
// started once per package run; each test truncates the tables it touches.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration tests need docker")
	}

	sharedOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("meterly_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			sharedErr = err
			return
		}
		sharedDSN, sharedErr = container.ConnectionString(ctx, "sslmode=disable")
		if sharedErr != nil {
			return
		}

		m, err := migration.NewFromURL(sharedDSN, migrations.FS, zap.NewNop())
		if err != nil {
			sharedErr = err
			return
		}
		defer m.Close()
		sharedErr = m.Up()
	})
	require.NoError(t, sharedErr, "failed to prepare PostgreSQL container")

	db, err := gorm.Open(gormpostgres.Open(sharedDSN), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(32)

	t.Cleanup(func() { _ = sqlDB.Close() })
	return &TestDB{DB: db, DSN: sharedDSN}
}

// Truncate empties the named tables
func (tdb *TestDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		require.NoError(t, tdb.DB.Exec("TRUNCATE TABLE "+table+" CASCADE").Error)
	}
}
