package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

var _ billing.EventLog = (*GormEventLog)(nil)

// GormEventLog implements billing.EventLog on the billing_events table
type GormEventLog struct {
	db *gorm.DB
}

// NewGormEventLog creates a new GormEventLog
func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

// Seen reports whether the event id is recorded
func (l *GormEventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.BillingEventModel{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// ProcessOnce inserts the event row and runs apply in the same transaction.
// A conflicting insert means another delivery won; apply is skipped.
func (l *GormEventLog) ProcessOnce(ctx context.Context, event *billing.Event, apply func(ctx context.Context, subscribers subscriber.Repository) error) (bool, error) {
	applied := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.BillingEventModel{
			EventID:         event.ID,
			EventType:       string(event.Type),
			SubscriptionRef: event.SubscriptionRef,
			OccurredAt:      event.CreatedAt,
			ProcessedAt:     time.Now().UTC(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := apply(ctx, NewGormSubscriberRepository(tx)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
