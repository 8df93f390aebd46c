// Package identity holds login identities and sessions for subscribers.
// Passwords never leave this package in clear form; they are hashed with bcrypt
// on creation and compared with bcrypt on authentication.
package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the hashing cost for stored passwords
const DefaultBcryptCost = 12

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores bytes past 72
)

// ProfileMetadata is stored alongside the identity at creation time
type ProfileMetadata struct {
	DisplayName  string
	BusinessName string
	Plan         string
}

// Identity is a login identity in the credential store
type Identity struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   string
	DisplayName    string
	BusinessName   string
	Plan           string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIdentity creates an identity with a hashed password
func NewIdentity(email, password string, profile ProfileMetadata, cost int) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, shared.ErrValidation.WithMessage("email is required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, shared.ErrValidation.WithMessage("password could not be hashed").WithCause(err)
	}
	now := time.Now().UTC()
	return &Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  profile.DisplayName,
		BusinessName: profile.BusinessName,
		Plan:         profile.Plan,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// VerifyPassword compares password against the stored hash
func (i *Identity) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(i.PasswordHash), []byte(password)) == nil
}

// IsLocked reports whether logins are refused at the given time
func (i *Identity) IsLocked(at time.Time) bool {
	return i.LockedUntil != nil && at.Before(*i.LockedUntil)
}

// RecordLoginSuccess clears failed attempts
func (i *Identity) RecordLoginSuccess(at time.Time) {
	i.FailedAttempts = 0
	i.LockedUntil = nil
	i.LastLoginAt = &at
	i.UpdatedAt = at
}

// RecordLoginFailure counts a failed attempt and locks the identity once
// maxAttempts is reached. It returns true when the identity became locked.
func (i *Identity) RecordLoginFailure(at time.Time, maxAttempts int, lockFor time.Duration) bool {
	i.FailedAttempts++
	i.UpdatedAt = at
	if maxAttempts > 0 && i.FailedAttempts >= maxAttempts {
		until := at.Add(lockFor)
		i.LockedUntil = &until
		i.FailedAttempts = 0
		return true
	}
	return false
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return shared.ErrValidation.WithMessage("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return shared.ErrValidation.WithMessage("password cannot exceed 72 bytes")
	}
	return nil
}
