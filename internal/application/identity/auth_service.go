// Package identity exposes login, logout and current-session lookups. Every
// credential check goes through identity.Provisioner.
package identity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/meterly/backend/internal/application/validation"
	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/logger"
)

// AuthService handles authentication operations
type AuthService struct {
	provisioner identity.Provisioner
	subscribers subscriber.Repository
	timeout     time.Duration
	logger      *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	provisioner identity.Provisioner,
	subscribers subscriber.Repository,
	timeout time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		provisioner: provisioner,
		subscribers: subscribers,
		timeout:     timeout,
		logger:      logger,
	}
}

// Login authenticates an email and password and returns a session
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	session, err := s.provisioner.Authenticate(actx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			logger.L(ctx).Info("Login rejected")
		}
		return nil, err
	}

	logger.L(ctx).Info("Login succeeded", zap.String("identity_id", session.IdentityID.String()))
	return &LoginResult{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		IdentityID:  session.IdentityID,
	}, nil
}

// Logout revokes the session behind token
func (s *AuthService) Logout(ctx context.Context, token string) error {
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.provisioner.GetSession(actx, token)
	if err != nil {
		return err
	}
	return s.provisioner.RevokeSession(actx, session)
}

// CurrentSubscriber returns the subscriber owning session. A session whose
// signup never completed reports the pending status with no plan.
func (s *AuthService) CurrentSubscriber(ctx context.Context, session *identity.Session) (*CurrentSubscriberResult, error) {
	result := &CurrentSubscriberResult{
		SubscriberID: session.IdentityID,
		Email:        session.Email,
		Status:       subscriber.StatusPending,
	}

	sub, err := s.subscribers.FindByID(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return result, nil
		}
		return nil, shared.ErrInternal.WithCause(err)
	}

	result.DisplayName = sub.DisplayName
	result.BusinessName = sub.BusinessName
	result.Plan = sub.Plan
	result.Status = sub.Status
	result.SubscriptionEnd = sub.SubscriptionEnd
	return result, nil
}
