package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/meterly/backend/internal/domain/subscriber"
)

// ReconciliationCaseModel maps reconciliation_cases
type ReconciliationCaseModel struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubscriberID           uuid.UUID `gorm:"type:uuid;not null;index"`
	Email                  string    `gorm:"type:varchar(320);not null"`
	DisplayName            string    `gorm:"type:varchar(200)"`
	BusinessName           string    `gorm:"type:varchar(200)"`
	Plan                   string    `gorm:"type:varchar(20);not null"`
	PlanPrice              int64     `gorm:"not null"`
	BillingCustomerRef     string    `gorm:"type:varchar(255);not null"`
	BillingSubscriptionRef string    `gorm:"type:varchar(255);not null"`
	Reason                 string    `gorm:"type:text"`
	Status                 string    `gorm:"type:varchar(20);not null;index"`
	CreatedAt              time.Time `gorm:"not null"`
	ResolvedAt             *time.Time
}

// TableName returns the table name for the model
func (ReconciliationCaseModel) TableName() string {
	return "reconciliation_cases"
}

// ToDomain converts the model to a domain case
func (m *ReconciliationCaseModel) ToDomain() *subscriber.ReconciliationCase {
	return &subscriber.ReconciliationCase{
		ID:                     m.ID,
		SubscriberID:           m.SubscriberID,
		Email:                  m.Email,
		DisplayName:            m.DisplayName,
		BusinessName:           m.BusinessName,
		Plan:                   subscriber.PlanType(m.Plan),
		PlanPrice:              m.PlanPrice,
		BillingCustomerRef:     m.BillingCustomerRef,
		BillingSubscriptionRef: m.BillingSubscriptionRef,
		Reason:                 m.Reason,
		Status:                 subscriber.CaseStatus(m.Status),
		CreatedAt:              utc(m.CreatedAt),
		ResolvedAt:             utcPtr(m.ResolvedAt),
	}
}

// ReconciliationCaseFromDomain converts a domain case to a model
func ReconciliationCaseFromDomain(c *subscriber.ReconciliationCase) *ReconciliationCaseModel {
	return &ReconciliationCaseModel{
		ID:                     c.ID,
		SubscriberID:           c.SubscriberID,
		Email:                  c.Email,
		DisplayName:            c.DisplayName,
		BusinessName:           c.BusinessName,
		Plan:                   string(c.Plan),
		PlanPrice:              c.PlanPrice,
		BillingCustomerRef:     c.BillingCustomerRef,
		BillingSubscriptionRef: c.BillingSubscriptionRef,
		Reason:                 c.Reason,
		Status:                 string(c.Status),
		CreatedAt:              c.CreatedAt,
		ResolvedAt:             c.ResolvedAt,
	}
}

// All lists every model, for AutoMigrate in tests
func All() []any {
	return []any{
		&SubscriberModel{},
		&UsageRecordModel{},
		&IdentityModel{},
		&BillingEventModel{},
		&ReconciliationCaseModel{},
	}
}
