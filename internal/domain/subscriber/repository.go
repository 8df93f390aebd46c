package subscriber

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists subscribers. Lookups return shared.ErrNotFound when absent.
type Repository interface {
	// Create inserts a new subscriber; returns shared.ErrDuplicateSubscriber on email conflict
	Create(ctx context.Context, s *Subscriber) error
	// UpdatePlan writes only the plan and its price
	UpdatePlan(ctx context.Context, s *Subscriber) error
	// UpdateBillingState writes the status, its transition count and the period
	// end, provided the stored status still equals from. A status changed since
	// the read returns shared.ErrInvalidState.
	UpdateBillingState(ctx context.Context, s *Subscriber, from Status) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	FindByEmail(ctx context.Context, email string) (*Subscriber, error)
	FindByBillingCustomerRef(ctx context.Context, ref string) (*Subscriber, error)
	FindByBillingSubscriptionRef(ctx context.Context, ref string) (*Subscriber, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}
