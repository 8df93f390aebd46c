package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

var _ subscriber.Repository = (*GormSubscriberRepository)(nil)

// GormSubscriberRepository implements subscriber.Repository using GORM
type GormSubscriberRepository struct {
	db *gorm.DB
}

// NewGormSubscriberRepository creates a new GormSubscriberRepository
func NewGormSubscriberRepository(db *gorm.DB) *GormSubscriberRepository {
	return &GormSubscriberRepository{db: db}
}

// Create inserts a subscriber. The unique email index turns a racing
// duplicate signup into ErrDuplicateSubscriber.
func (r *GormSubscriberRepository) Create(ctx context.Context, s *subscriber.Subscriber) error {
	model := models.SubscriberFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ErrDuplicateSubscriber.WithCause(err)
		}
		return err
	}
	s.CreatedAt = model.CreatedAt
	s.UpdatedAt = model.UpdatedAt
	return nil
}

// UpdatePlan writes the plan columns of an existing subscriber and leaves
// the status alone
func (r *GormSubscriberRepository) UpdatePlan(ctx context.Context, s *subscriber.Subscriber) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"plan":       string(s.Plan),
			"plan_price": s.PlanPrice,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	s.UpdatedAt = now
	return nil
}

// UpdateBillingState compares the stored status with from and, when they
// match, writes the status columns and period end. Plan columns are untouched.
func (r *GormSubscriberRepository) UpdateBillingState(ctx context.Context, s *subscriber.Subscriber, from subscriber.Status) error {
	now := time.Now().UTC()
	cols := map[string]any{
		"status":             string(s.Status),
		"status_transitions": s.StatusTransitions,
		"updated_at":         now,
	}
	if s.SubscriptionEnd != nil {
		cols["subscription_end"] = *s.SubscriptionEnd
	}
	result := r.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("id = ? AND status = ?", s.ID, string(from)).
		Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.SubscriberModel{}).Where("id = ?", s.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrInvalidState.WithMessage("Subscriber status changed concurrently").
			WithDetails(map[string]any{"expected": string(from)})
	}
	s.UpdatedAt = now
	return nil
}

// FindByID finds a subscriber by its ID
func (r *GormSubscriberRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByEmail finds a subscriber by e-mail, ignoring case
func (r *GormSubscriberRepository) FindByEmail(ctx context.Context, email string) (*subscriber.Subscriber, error) {
	return r.findOne(ctx, "email = ?", subscriber.NormalizeEmail(email))
}

func (r *GormSubscriberRepository) FindByBillingCustomerRef(ctx context.Context, ref string) (*subscriber.Subscriber, error) {
	return r.findOne(ctx, "billing_customer_ref = ?", ref)
}

func (r *GormSubscriberRepository) FindByBillingSubscriptionRef(ctx context.Context, ref string) (*subscriber.Subscriber, error) {
	return r.findOne(ctx, "billing_subscription_ref = ?", ref)
}

// ExistsByEmail checks for a subscriber with the e-mail, ignoring case
func (r *GormSubscriberRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("email = ?", subscriber.NormalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormSubscriberRepository) findOne(ctx context.Context, query string, arg any) (*subscriber.Subscriber, error) {
	var model models.SubscriberModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}
