package models

import (
	"time"

	"github.com/meterly/backend/internal/domain/subscriber"
)

// SubscriberModel maps the subscribers table
type SubscriberModel struct {
	BaseModel
	Email                  string     `gorm:"type:varchar(320);not null;uniqueIndex:idx_subscribers_email"`
	DisplayName            string     `gorm:"type:varchar(200);not null"`
	BusinessName           string     `gorm:"type:varchar(200)"`
	Plan                   string     `gorm:"type:varchar(20);not null"`
	PlanPrice              int64      `gorm:"not null"`
	BillingCustomerRef     string     `gorm:"type:varchar(255);not null;index:idx_subscribers_customer_ref"`
	BillingSubscriptionRef string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_subscribers_subscription_ref"`
	Status                 string     `gorm:"type:varchar(20);not null"`
	SubscriptionStart      time.Time  `gorm:"not null"`
	SubscriptionEnd        *time.Time
	StatusTransitions      int        `gorm:"not null;default:0"`
}

// TableName returns the table name for the model
func (SubscriberModel) TableName() string {
	return "subscribers"
}

// ToDomain converts the model to a domain subscriber
func (m *SubscriberModel) ToDomain() *subscriber.Subscriber {
	return &subscriber.Subscriber{
		ID:                     m.ID,
		Email:                  m.Email,
		DisplayName:            m.DisplayName,
		BusinessName:           m.BusinessName,
		Plan:                   subscriber.PlanType(m.Plan),
		PlanPrice:              m.PlanPrice,
		BillingCustomerRef:     m.BillingCustomerRef,
		BillingSubscriptionRef: m.BillingSubscriptionRef,
		Status:                 subscriber.Status(m.Status),
		SubscriptionStart:      utc(m.SubscriptionStart),
		SubscriptionEnd:        utcPtr(m.SubscriptionEnd),
		StatusTransitions:      m.StatusTransitions,
		CreatedAt:              utc(m.CreatedAt),
		UpdatedAt:              utc(m.UpdatedAt),
	}
}

// SubscriberFromDomain converts a domain subscriber to a model
func SubscriberFromDomain(s *subscriber.Subscriber) *SubscriberModel {
	return &SubscriberModel{
		BaseModel: BaseModel{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		},
		Email:                  s.Email,
		DisplayName:            s.DisplayName,
		BusinessName:           s.BusinessName,
		Plan:                   string(s.Plan),
		PlanPrice:              s.PlanPrice,
		BillingCustomerRef:     s.BillingCustomerRef,
		BillingSubscriptionRef: s.BillingSubscriptionRef,
		Status:                 string(s.Status),
		SubscriptionStart:      s.SubscriptionStart,
		SubscriptionEnd:        s.SubscriptionEnd,
		StatusTransitions:      s.StatusTransitions,
	}
}
