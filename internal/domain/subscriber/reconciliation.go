package subscriber

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CaseStatus tracks an out-of-band repair
type CaseStatus string

const (
	CaseOpen     CaseStatus = "open"
	CaseResolved CaseStatus = "resolved"
)

// ReconciliationCase records a signup whose remote identity and billing
// subscription exist but whose local record could not be written.
// It carries everything needed to write the record later.
type ReconciliationCase struct {
	ID                     uuid.UUID
	SubscriberID           uuid.UUID
	Email                  string
	DisplayName            string
	BusinessName           string
	Plan                   PlanType
	PlanPrice              int64
	BillingCustomerRef     string
	BillingSubscriptionRef string
	Reason                 string
	Status                 CaseStatus
	CreatedAt              time.Time
	ResolvedAt             *time.Time
}

// NewReconciliationCase captures a subscriber that failed to persist
func NewReconciliationCase(s *Subscriber, reason string) *ReconciliationCase {
	return &ReconciliationCase{
		ID:                     uuid.New(),
		SubscriberID:           s.ID,
		Email:                  s.Email,
		DisplayName:            s.DisplayName,
		BusinessName:           s.BusinessName,
		Plan:                   s.Plan,
		PlanPrice:              s.PlanPrice,
		BillingCustomerRef:     s.BillingCustomerRef,
		BillingSubscriptionRef: s.BillingSubscriptionRef,
		Reason:                 reason,
		Status:                 CaseOpen,
	}
}

// Subscriber rebuilds the pending subscriber the case was opened for
func (c *ReconciliationCase) Subscriber() *Subscriber {
	return &Subscriber{
		ID:                     c.SubscriberID,
		Email:                  c.Email,
		DisplayName:            c.DisplayName,
		BusinessName:           c.BusinessName,
		Plan:                   c.Plan,
		PlanPrice:              c.PlanPrice,
		BillingCustomerRef:     c.BillingCustomerRef,
		BillingSubscriptionRef: c.BillingSubscriptionRef,
		Status:                 StatusPending,
		SubscriptionStart:      c.CreatedAt,
	}
}

// Resolve marks the case repaired
func (c *ReconciliationCase) Resolve(at time.Time) {
	c.Status = CaseResolved
	c.ResolvedAt = &at
}

// ReconciliationRepository stores reconciliation cases
type ReconciliationRepository interface {
	Record(ctx context.Context, c *ReconciliationCase) error
	FindByID(ctx context.Context, id uuid.UUID) (*ReconciliationCase, error)
	ListOpen(ctx context.Context, limit int) ([]*ReconciliationCase, error)
	Save(ctx context.Context, c *ReconciliationCase) error
}
