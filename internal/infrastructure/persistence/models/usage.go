package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/meterly/backend/internal/domain/usage"
)

// UsageRecordModel maps usage_records. The composite primary key is the
// (subscriber_id, month) uniqueness the ledger upsert relies on.
type UsageRecordModel struct {
	SubscriberID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Month        string    `gorm:"type:char(7);primaryKey"`
	Count        int64     `gorm:"not null;default:0;check:count >= 0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToDomain converts the model to a usage record
func (m *UsageRecordModel) ToDomain() usage.Record {
	return usage.Record{
		SubscriberID: m.SubscriberID,
		Month:        m.Month,
		Count:        m.Count,
		CreatedAt:    utc(m.CreatedAt),
		UpdatedAt:    utc(m.UpdatedAt),
	}
}
