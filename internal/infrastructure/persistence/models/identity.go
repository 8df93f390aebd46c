package models

import (
	"time"

	"github.com/meterly/backend/internal/domain/identity"
)

// IdentityModel maps the identities credential table
type IdentityModel struct {
	BaseModel
	Email          string `gorm:"type:varchar(320);not null;uniqueIndex:idx_identities_email"`
	PasswordHash   string `gorm:"type:varchar(100);not null"`
	DisplayName    string `gorm:"type:varchar(200)"`
	BusinessName   string `gorm:"type:varchar(200)"`
	Plan           string `gorm:"type:varchar(20)"`
	FailedAttempts int    `gorm:"not null;default:0"`
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
}

// TableName returns the table name for the model
func (IdentityModel) TableName() string {
	return "identities"
}

// ToDomain converts the model to a domain identity
func (m *IdentityModel) ToDomain() *identity.Identity {
	return &identity.Identity{
		ID:             m.ID,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		DisplayName:    m.DisplayName,
		BusinessName:   m.BusinessName,
		Plan:           m.Plan,
		FailedAttempts: m.FailedAttempts,
		LockedUntil:    utcPtr(m.LockedUntil),
		LastLoginAt:    utcPtr(m.LastLoginAt),
		CreatedAt:      utc(m.CreatedAt),
		UpdatedAt:      utc(m.UpdatedAt),
	}
}

// IdentityFromDomain converts a domain identity to a model
func IdentityFromDomain(i *identity.Identity) *IdentityModel {
	return &IdentityModel{
		BaseModel: BaseModel{
			ID:        i.ID,
			CreatedAt: i.CreatedAt,
			UpdatedAt: i.UpdatedAt,
		},
		Email:          i.Email,
		PasswordHash:   i.PasswordHash,
		DisplayName:    i.DisplayName,
		BusinessName:   i.BusinessName,
		Plan:           i.Plan,
		FailedAttempts: i.FailedAttempts,
		LockedUntil:    i.LockedUntil,
		LastLoginAt:    i.LastLoginAt,
	}
}
