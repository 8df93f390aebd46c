package billing

import (
	"context"
	"time"

	"github.com/meterly/backend/internal/domain/subscriber"
)

// EventType identifies a processor notification
type EventType string

const (
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionCreated  EventType = "customer.subscription.created"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
)

// Event is a verified processor notification reduced to the fields the
// subscription lifecycle depends on
type Event struct {
	ID              string
	Type            EventType
	CreatedAt       time.Time
	CustomerRef     string
	SubscriptionRef string
	// SubscriptionStatus is set for customer.subscription.* events
	SubscriptionStatus SubscriptionStatus
	// PeriodEnd is the end of the current billing period, when known
	PeriodEnd time.Time
	// Livemode is false for processor test-mode events
	Livemode bool
}

// EventLog records processed event ids. Recording happens in the same unit of work
// as the state change the event causes, so an event is applied at most once.
type EventLog interface {
	// Seen reports whether an event id has already been recorded
	Seen(ctx context.Context, eventID string) (bool, error)

	// ProcessOnce records the event and runs apply in one transaction. When the event
	// id is already recorded apply is not called and ProcessOnce returns false.
	// An error from apply rolls back the record so the event can be redelivered.
	ProcessOnce(ctx context.Context, event *Event, apply func(ctx context.Context, subscribers subscriber.Repository) error) (bool, error)
}
