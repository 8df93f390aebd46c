package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterly/backend/internal/infrastructure/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:          "test-secret-key-that-is-at-least-32-chars",
		SessionDuration: time.Hour,
		Issuer:          "meterly-test",
	}
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	svc := NewJWTService(testJWTConfig())
	id := uuid.New()

	session, err := svc.IssueSession(id, "ada@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.TokenID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 2*time.Second)

	claims, err := svc.ValidateSession(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.TokenID, claims.ID)
	assert.Equal(t, "ada@example.com", claims.Email)
	got, err := claims.IdentityID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestJWTService_ValidateErrors(t *testing.T) {
	svc := NewJWTService(testJWTConfig())

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateSession("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		cfg := testJWTConfig()
		cfg.Secret = "another-secret-key-that-is-32-chars-long"
		session, err := NewJWTService(cfg).IssueSession(uuid.New(), "a@b.co")
		require.NoError(t, err)
		_, err = svc.ValidateSession(session.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewJWTService(testJWTConfig())
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		session, err := old.IssueSession(uuid.New(), "a@b.co")
		require.NoError(t, err)
		_, err = svc.ValidateSession(session.Token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong type", func(t *testing.T) {
		now := time.Now()
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.NewString(),
				Issuer:    "meterly-test",
				Audience:  jwt.ClaimStrings{"meterly-test"},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
			},
			TokenType: "refresh",
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTConfig().Secret))
		require.NoError(t, err)
		_, err = svc.ValidateSession(token)
		assert.ErrorIs(t, err, ErrInvalidTokenType)
	})
}

func TestClaims_GetRemainingTTL(t *testing.T) {
	now := time.Now()
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}}
	assert.InDelta(t, time.Minute.Seconds(), c.GetRemainingTTL(now).Seconds(), 1)
	assert.Zero(t, c.GetRemainingTTL(now.Add(time.Hour)))
	assert.Zero(t, (&Claims{}).GetRemainingTTL(now))
}
