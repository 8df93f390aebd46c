//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/infrastructure/persistence"
)

func TestUsageLedger_ConcurrentIncrementsAreNotLost(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "usage_records")

	ledger := persistence.NewGormUsageLedger(tdb.DB, time.Now)
	id := uuid.New()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Increment(ctx, id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := ledger.GetCurrentUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}

func TestUsageLedger_ConcurrentFirstReadCreatesOneRecord(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "usage_records")

	ledger := persistence.NewGormUsageLedger(tdb.DB, time.Now)
	id := uuid.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := ledger.GetCurrentUsage(ctx, id)
			assert.NoError(t, err)
			assert.Zero(t, count)
		}()
	}
	wg.Wait()

	var rows int64
	require.NoError(t, tdb.DB.Table("usage_records").Where("subscriber_id = ?", id).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestUsageLedger_MonthRollover(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.Truncate(t, "usage_records")

	id := uuid.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)
	ledger := persistence.NewGormUsageLedger(tdb.DB, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := ledger.Increment(ctx, id)
		require.NoError(t, err)
	}

	now = time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC)
	count, err := ledger.GetCurrentUsage(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = ledger.Increment(ctx, id)
	require.NoError(t, err)

	history, err := ledger.History(ctx, id, 12)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-02", history[0].Month)
	assert.Equal(t, int64(1), history[0].Count)
	assert.Equal(t, "2026-01", history[1].Month)
	assert.Equal(t, int64(3), history[1].Count)
}
