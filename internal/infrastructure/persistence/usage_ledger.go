package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

// incrementSQL adds one to the month's count in a single statement. The
// conflict target is the (subscriber_id, month) primary key, so concurrent
// increments serialise on that row and none are lost.
const incrementSQL = `INSERT INTO usage_records (subscriber_id, month, count, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (subscriber_id, month) DO UPDATE
SET count = usage_records.count + 1, updated_at = excluded.updated_at
RETURNING count`

const maxHistoryMonths = 24

var _ usage.Ledger = (*GormUsageLedger)(nil)

// GormUsageLedger implements usage.Ledger. It works on both postgres and
// sqlite, which share the upsert syntax.
type GormUsageLedger struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormUsageLedger creates a ledger. A nil clock uses the system clock.
func NewGormUsageLedger(db *gorm.DB, clock shared.Clock) *GormUsageLedger {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &GormUsageLedger{db: db, clock: clock}
}

// GetCurrentUsage returns this month's count, creating the zero record first
func (l *GormUsageLedger) GetCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	now := l.clock().UTC()
	month := usage.MonthKey(now)

	record := models.UsageRecordModel{
		SubscriberID: subscriberID,
		Month:        month,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return 0, fmt.Errorf("failed to ensure usage record: %w", err)
	}

	return l.read(ctx, subscriberID, month)
}

// PeekCurrentUsage returns this month's count or zero, without writing
func (l *GormUsageLedger) PeekCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	return l.read(ctx, subscriberID, usage.MonthKey(l.clock()))
}

func (l *GormUsageLedger) read(ctx context.Context, subscriberID uuid.UUID, month string) (int64, error) {
	var counts []int64
	err := l.db.WithContext(ctx).Model(&models.UsageRecordModel{}).
		Where("subscriber_id = ? AND month = ?", subscriberID, month).
		Limit(1).
		Pluck("count", &counts).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

// Increment atomically adds one and returns the new count
func (l *GormUsageLedger) Increment(ctx context.Context, subscriberID uuid.UUID) (int64, error) {
	now := l.clock().UTC()

	var count int64
	err := l.db.WithContext(ctx).
		Raw(incrementSQL, subscriberID, usage.MonthKey(now), now, now).
		Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// History returns up to months records, newest first
func (l *GormUsageLedger) History(ctx context.Context, subscriberID uuid.UUID, months int) ([]usage.Record, error) {
	if months <= 0 || months > maxHistoryMonths {
		months = maxHistoryMonths
	}

	var rows []models.UsageRecordModel
	err := l.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("month DESC").
		Limit(months).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load usage history: %w", err)
	}

	out := make([]usage.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
