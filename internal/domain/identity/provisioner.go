package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated login
type Session struct {
	Token      string    `json:"token"`
	TokenID    string    `json:"-"`
	IdentityID uuid.UUID `json:"identity_id"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Provisioner creates and authenticates subscriber identities.
// It never rolls back on its own; callers compensate with DeleteIdentity.
type Provisioner interface {
	// CreateIdentity fails with shared.ErrIdentityAlreadyExists when the email is
	// registered and shared.ErrIdentityStoreUnavailable when the store is unreachable
	CreateIdentity(ctx context.Context, email, password string, profile ProfileMetadata) (*Identity, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	// Authenticate fails with shared.ErrInvalidCredentials
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	// GetSession fails with shared.ErrUnauthenticated for unknown, expired or revoked tokens
	GetSession(ctx context.Context, token string) (*Session, error)
	RevokeSession(ctx context.Context, session *Session) error
}

// Store persists identities
type Store interface {
	// Create returns shared.ErrIdentityAlreadyExists on email conflict
	Create(ctx context.Context, identity *Identity) error
	Save(ctx context.Context, identity *Identity) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
}
