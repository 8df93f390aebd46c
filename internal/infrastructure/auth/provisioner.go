package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// ProvisionerConfig controls hashing and lockout
type ProvisionerConfig struct {
	BcryptCost       int
	MaxLoginAttempts int
	LockDuration     time.Duration
}

var _ identity.Provisioner = (*Provisioner)(nil)

// Provisioner implements identity.Provisioner over an identity.Store with
// bcrypt credentials and JWT sessions.
type Provisioner struct {
	store     identity.Store
	tokens    *JWTService
	blacklist TokenBlacklist
	cfg       ProvisionerConfig
	clock     shared.Clock
	logger    *zap.Logger

	// dummyHash keeps unknown-email logins as slow as wrong-password logins
	dummyHash []byte
}

// NewProvisioner creates a provisioner
func NewProvisioner(store identity.Store, tokens *JWTService, blacklist TokenBlacklist, cfg ProvisionerConfig, logger *zap.Logger) (*Provisioner, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = identity.DefaultBcryptCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("meterly-unknown-identity"), cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &Provisioner{
		store:     store,
		tokens:    tokens,
		blacklist: blacklist,
		cfg:       cfg,
		clock:     shared.SystemClock,
		logger:    logger.Named("identity"),
		dummyHash: dummy,
	}, nil
}

// WithClock replaces the clock used for lockout decisions
func (p *Provisioner) WithClock(clock shared.Clock) *Provisioner {
	p.clock = clock
	return p
}

// CreateIdentity registers a new identity
func (p *Provisioner) CreateIdentity(ctx context.Context, email, password string, profile identity.ProfileMetadata) (*identity.Identity, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "identity", "create")
	defer span.End()

	ident, err := identity.NewIdentity(email, password, profile, p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	if err := p.store.Create(ctx, ident); err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, shared.ErrIdentityAlreadyExists) {
			return nil, err
		}
		return nil, shared.ErrIdentityStoreUnavailable.WithCause(err)
	}

	logger.L(ctx).Info("Identity created", zap.String("identity_id", ident.ID.String()))
	return ident, nil
}

// DeleteIdentity removes an identity and revokes its sessions. Deleting an
// unknown identity succeeds so compensation can be repeated.
func (p *Provisioner) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "identity", "delete")
	defer span.End()

	if err := p.blacklist.RevokeIdentity(ctx, id.String(), p.tokens.SessionDuration()); err != nil {
		telemetry.RecordError(span, err)
		return shared.ErrIdentityStoreUnavailable.WithCause(err)
	}
	if err := p.store.Delete(ctx, id); err != nil && !errors.Is(err, shared.ErrNotFound) {
		telemetry.RecordError(span, err)
		return shared.ErrIdentityStoreUnavailable.WithCause(err)
	}

	logger.L(ctx).Info("Identity deleted", zap.String("identity_id", id.String()))
	return nil
}

// Authenticate verifies credentials and issues a session. Every failure,
// including a locked identity, is reported as ErrInvalidCredentials.
func (p *Provisioner) Authenticate(ctx context.Context, email, password string) (*identity.Session, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "identity", "authenticate")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	ident, err := p.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
			return nil, shared.ErrInvalidCredentials
		}
		telemetry.RecordError(span, err)
		return nil, shared.ErrIdentityStoreUnavailable.WithCause(err)
	}

	now := p.clock()
	log := logger.L(ctx).With(zap.String("identity_id", ident.ID.String()))
	if ident.IsLocked(now) {
		log.Warn("Login refused, identity locked", zap.Timep("locked_until", ident.LockedUntil))
		return nil, shared.ErrInvalidCredentials
	}

	if !ident.VerifyPassword(password) {
		if ident.RecordLoginFailure(now, p.cfg.MaxLoginAttempts, p.cfg.LockDuration) {
			log.Warn("Identity locked after repeated failures", zap.Duration("lock_for", p.cfg.LockDuration))
		}
		if err := p.store.Save(ctx, ident); err != nil {
			log.Error("Failed to record login failure", zap.Error(err))
		}
		return nil, shared.ErrInvalidCredentials
	}

	ident.RecordLoginSuccess(now)
	if err := p.store.Save(ctx, ident); err != nil {
		log.Warn("Failed to record login", zap.Error(err))
	}

	session, err := p.tokens.IssueSession(ident.ID, ident.Email)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, shared.ErrInternal.WithCause(err)
	}
	return session, nil
}

// GetSession validates a bearer token
func (p *Provisioner) GetSession(ctx context.Context, token string) (*identity.Session, error) {
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}

	claims, err := p.tokens.ValidateSession(token)
	if err != nil {
		return nil, shared.ErrUnauthenticated.WithCause(err)
	}
	identityID, err := claims.IdentityID()
	if err != nil {
		return nil, shared.ErrUnauthenticated.WithCause(ErrInvalidClaims)
	}

	revoked, err := p.blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, shared.ErrIdentityStoreUnavailable.WithCause(err)
	}
	if !revoked {
		revoked, err = p.blacklist.IsIdentityRevoked(ctx, claims.Subject, claims.GetIssuedAtTime())
		if err != nil {
			return nil, shared.ErrIdentityStoreUnavailable.WithCause(err)
		}
	}
	if revoked {
		return nil, shared.ErrUnauthenticated.WithCause(ErrTokenBlacklisted)
	}

	return &identity.Session{
		Token:      token,
		TokenID:    claims.ID,
		IdentityID: identityID,
		Email:      claims.Email,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// RevokeSession blacklists the session token for its remaining lifetime
func (p *Provisioner) RevokeSession(ctx context.Context, session *identity.Session) error {
	if session == nil || session.TokenID == "" {
		return nil
	}
	ttl := session.ExpiresAt.Sub(p.clock())
	if err := p.blacklist.AddToBlacklist(ctx, session.TokenID, ttl); err != nil {
		return shared.ErrIdentityStoreUnavailable.WithCause(err)
	}
	logger.L(ctx).Info("Session revoked", zap.String("identity_id", session.IdentityID.String()))
	return nil
}
