package models

import "time"

// BillingEventModel records a processed processor notification.
// The primary key on event_id makes replays a conflict.
type BillingEventModel struct {
	EventID         string    `gorm:"type:varchar(255);primaryKey"`
	EventType       string    `gorm:"type:varchar(100);not null"`
	SubscriptionRef string    `gorm:"type:varchar(255);index:idx_billing_events_subscription_ref"`
	OccurredAt      time.Time `gorm:"not null"`
	ProcessedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (BillingEventModel) TableName() string {
	return "billing_events"
}
