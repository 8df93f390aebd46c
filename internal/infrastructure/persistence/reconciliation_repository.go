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

var _ subscriber.ReconciliationRepository = (*GormReconciliationRepository)(nil)

// GormReconciliationRepository stores signups that need an out-of-band repair
type GormReconciliationRepository struct {
	db *gorm.DB
}

func NewGormReconciliationRepository(db *gorm.DB) *GormReconciliationRepository {
	return &GormReconciliationRepository{db: db}
}

// Record inserts a new case
func (r *GormReconciliationRepository) Record(ctx context.Context, c *subscriber.ReconciliationCase) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(models.ReconciliationCaseFromDomain(c)).Error
}

func (r *GormReconciliationRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.ReconciliationCase, error) {
	var model models.ReconciliationCaseModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// ListOpen returns open cases, oldest first
func (r *GormReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]*subscriber.ReconciliationCase, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.ReconciliationCaseModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(subscriber.CaseOpen)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*subscriber.ReconciliationCase, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save updates the case status
func (r *GormReconciliationRepository) Save(ctx context.Context, c *subscriber.ReconciliationCase) error {
	result := r.db.WithContext(ctx).Model(&models.ReconciliationCaseModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"status":      string(c.Status),
			"resolved_at": c.ResolvedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
