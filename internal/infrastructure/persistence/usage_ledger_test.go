package persistence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGormUsageLedger_IncrementIsSingleStatement(t *testing.T) {
	db, mock := sqlmockDatabase(t)

	id := uuid.New()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ledger := NewGormUsageLedger(db.DB, fixedClock(now))

	mock.ExpectQuery(`(?s)INSERT INTO usage_records.*ON CONFLICT \(subscriber_id, month\) DO UPDATE.*RETURNING count`).
		WithArgs(id, "2026-03", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := ledger.Increment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUsageLedger_IncrementError(t *testing.T) {
	db, mock := sqlmockDatabase(t)

	ledger := NewGormUsageLedger(db.DB, nil)
	mock.ExpectQuery(`INSERT INTO usage_records`).WillReturnError(assert.AnError)

	_, err := ledger.Increment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGormUsageLedger_GetCurrentUsage(t *testing.T) {
	db := newSQLiteDatabase(t)
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	ledger := NewGormUsageLedger(db.DB, fixedClock(now))
	ctx := context.Background()
	id := uuid.New()

	t.Run("creates a zero record on first read", func(t *testing.T) {
		count, err := ledger.GetCurrentUsage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		var rows int64
		require.NoError(t, db.DB.Model(&models.UsageRecordModel{}).Where("subscriber_id = ?", id).Count(&rows).Error)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("reads after increments", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := ledger.Increment(ctx, id)
			require.NoError(t, err)
		}
		count, err := ledger.GetCurrentUsage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestGormUsageLedger_PeekDoesNotWrite(t *testing.T) {
	db := newSQLiteDatabase(t)
	ledger := NewGormUsageLedger(db.DB, nil)
	id := uuid.New()

	count, err := ledger.PeekCurrentUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	var rows int64
	require.NoError(t, db.DB.Model(&models.UsageRecordModel{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestGormUsageLedger_ConcurrentIncrements(t *testing.T) {
	db := newSQLiteDatabase(t)
	ledger := NewGormUsageLedger(db.DB, nil)
	id := uuid.New()

	const workers = 25
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := ledger.Increment(context.Background(), id)
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a] < results[b] })
	for i, n := range results {
		assert.Equal(t, int64(i+1), n, "every increment must observe a distinct count")
	}

	count, err := ledger.GetCurrentUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}

func TestGormUsageLedger_ConcurrentFirstReadsCreateOneRecord(t *testing.T) {
	db := newSQLiteDatabase(t)
	ledger := NewGormUsageLedger(db.DB, nil)
	id := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.GetCurrentUsage(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var rows int64
	require.NoError(t, db.DB.Model(&models.UsageRecordModel{}).Where("subscriber_id = ?", id).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestGormUsageLedger_MonthRollover(t *testing.T) {
	db := newSQLiteDatabase(t)
	now := time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)
	ledger := NewGormUsageLedger(db.DB, func() time.Time { return now })
	ctx := context.Background()
	id := uuid.New()

	for i := 0; i < 4; i++ {
		_, err := ledger.Increment(ctx, id)
		require.NoError(t, err)
	}

	now = now.Add(2 * time.Minute)
	count, err := ledger.GetCurrentUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "a new month starts from zero")

	n, err := ledger.Increment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	history, err := ledger.History(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-02", history[0].Month)
	assert.Equal(t, int64(1), history[0].Count)
	assert.Equal(t, "2026-01", history[1].Month)
	assert.Equal(t, int64(4), history[1].Count)
}

func TestGormUsageLedger_HistoryLimit(t *testing.T) {
	db := newSQLiteDatabase(t)
	ctx := context.Background()
	id := uuid.New()

	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 5; m++ {
		ledger := NewGormUsageLedger(db.DB, fixedClock(start.AddDate(0, m, 0)))
		_, err := ledger.Increment(ctx, id)
		require.NoError(t, err)
	}

	history, err := NewGormUsageLedger(db.DB, nil).History(ctx, id, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2025-05", history[0].Month)
	assert.Equal(t, "2025-03", history[2].Month)
}
