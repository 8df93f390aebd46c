// Package subscriber holds the Subscriber aggregate: a paying or pending account
// with a plan, a billing status, and opaque references into the payment processor.
package subscriber

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// Status is the billing status of a subscriber
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
)

// transitions lists the statuses reachable from each status
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusPastDue, StatusCancelled},
	StatusActive:    {StatusPastDue, StatusCancelled},
	StatusPastDue:   {StatusActive, StatusCancelled},
	StatusCancelled: nil,
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = shared.ErrInvalidState.WithMessage("Subscriber status transition not allowed")

// Subscriber is the local source-of-truth record for an account
type Subscriber struct {
	ID                     uuid.UUID
	Email                  string
	DisplayName            string
	BusinessName           string
	Plan                   PlanType
	PlanPrice              int64
	BillingCustomerRef     string
	BillingSubscriptionRef string
	Status                 Status
	SubscriptionStart      time.Time
	SubscriptionEnd        *time.Time
	StatusTransitions      int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewSubscriberInput carries the references gathered during signup
type NewSubscriberInput struct {
	ID                     uuid.UUID
	Email                  string
	DisplayName            string
	BusinessName           string
	Plan                   Plan
	BillingCustomerRef     string
	BillingSubscriptionRef string
	SubscriptionStart      time.Time
	SubscriptionEnd        *time.Time
}

// NewSubscriber creates a subscriber in the pending state.
// Payment confirmation arrives later through a billing notification.
func NewSubscriber(in NewSubscriberInput) (*Subscriber, error) {
	if in.ID == uuid.Nil {
		return nil, shared.ErrValidation.WithMessage("subscriber id is required")
	}
	if in.BillingCustomerRef == "" || in.BillingSubscriptionRef == "" {
		return nil, shared.ErrValidation.WithMessage("billing references are required")
	}
	if in.Plan.PriceMinor <= 0 {
		return nil, shared.ErrValidation.WithMessage("plan price must be positive")
	}
	return &Subscriber{
		ID:                     in.ID,
		Email:                  NormalizeEmail(in.Email),
		DisplayName:            in.DisplayName,
		BusinessName:           in.BusinessName,
		Plan:                   in.Plan.Type,
		PlanPrice:              in.Plan.PriceMinor,
		BillingCustomerRef:     in.BillingCustomerRef,
		BillingSubscriptionRef: in.BillingSubscriptionRef,
		Status:                 StatusPending,
		SubscriptionStart:      in.SubscriptionStart,
		SubscriptionEnd:        in.SubscriptionEnd,
	}, nil
}

// ApplyStatus moves the subscriber to next. It returns false without error when the
// subscriber is already in that status, so repeated notifications are harmless.
func (s *Subscriber) ApplyStatus(next Status, at time.Time) (bool, error) {
	if !next.IsValid() {
		return false, ErrInvalidTransition.WithMessage("unknown subscriber status " + string(next))
	}
	if s.Status == next {
		return false, nil
	}
	if !s.Status.CanTransitionTo(next) {
		return false, ErrInvalidTransition.WithDetails(map[string]any{
			"from": string(s.Status),
			"to":   string(next),
		})
	}
	s.Status = next
	s.StatusTransitions++
	s.UpdatedAt = at
	return true, nil
}

// Renew records the end of the current billing period
func (s *Subscriber) Renew(periodEnd time.Time) {
	if periodEnd.IsZero() {
		return
	}
	end := periodEnd.UTC()
	s.SubscriptionEnd = &end
}

// ChangePlan records a plan swap performed with the processor
func (s *Subscriber) ChangePlan(plan Plan) error {
	if s.Status == StatusCancelled {
		return shared.ErrInvalidState.WithMessage("cannot change plan of a cancelled subscription")
	}
	s.Plan = plan.Type
	s.PlanPrice = plan.PriceMinor
	return nil
}

// IsActive reports whether metered actions are allowed
func (s *Subscriber) IsActive() bool {
	return s.Status == StatusActive
}

// NormalizeEmail lower-cases and trims an email so uniqueness is case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
