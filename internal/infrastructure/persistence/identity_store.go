package persistence

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
)

var _ identity.Store = (*GormIdentityStore)(nil)

// GormIdentityStore implements identity.Store using GORM
type GormIdentityStore struct {
	db *gorm.DB
}

// NewGormIdentityStore creates a new GormIdentityStore
func NewGormIdentityStore(db *gorm.DB) *GormIdentityStore {
	return &GormIdentityStore{db: db}
}

func (s *GormIdentityStore) Create(ctx context.Context, ident *identity.Identity) error {
	if err := s.db.WithContext(ctx).Create(models.IdentityFromDomain(ident)).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ErrIdentityAlreadyExists.WithCause(err)
		}
		return err
	}
	return nil
}

// Save persists login bookkeeping and profile changes
func (s *GormIdentityStore) Save(ctx context.Context, ident *identity.Identity) error {
	model := models.IdentityFromDomain(ident)
	result := s.db.WithContext(ctx).Model(model).
		Select("*").
		Omit("ID", "CreatedAt").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *GormIdentityStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.IdentityModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *GormIdentityStore) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	var model models.IdentityModel
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

func (s *GormIdentityStore) FindByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error) {
	var model models.IdentityModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}
