package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist invalidates session tokens before they expire
type TokenBlacklist interface {
	// AddToBlacklist revokes one token by JWT id; ttl should cover its remaining lifetime
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error

	// IsBlacklisted checks if a token's JTI is in the blacklist
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// RevokeIdentity rejects every token issued to identityID up to now
	RevokeIdentity(ctx context.Context, identityID string, ttl time.Duration) error

	// IsIdentityRevoked reports whether a token issued at issuedAt predates a revocation
	IsIdentityRevoked(ctx context.Context, identityID string, issuedAt time.Time) (bool, error)
}

const defaultBlacklistPrefix = "meterly:session:"

// RedisTokenBlacklist implements TokenBlacklist using Redis
type RedisTokenBlacklist struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenBlacklist creates a token blacklist on a shared Redis client
func NewRedisTokenBlacklist(client redis.UniversalClient, keyPrefix string) *RedisTokenBlacklist {
	if keyPrefix == "" {
		keyPrefix = defaultBlacklistPrefix
	}
	return &RedisTokenBlacklist{client: client, keyPrefix: keyPrefix}
}

func (b *RedisTokenBlacklist) jtiKey(jti string) string {
	return b.keyPrefix + "jti:" + jti
}

func (b *RedisTokenBlacklist) identityKey(identityID string) string {
	return b.keyPrefix + "identity:" + identityID
}

// AddToBlacklist adds a token's JTI to the blacklist
func (b *RedisTokenBlacklist) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, b.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsBlacklisted checks if a token's JTI is in the blacklist
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// RevokeIdentity stores the revocation time in Unix seconds
func (b *RedisTokenBlacklist) RevokeIdentity(ctx context.Context, identityID string, ttl time.Duration) error {
	err := b.client.Set(ctx, b.identityKey(identityID), time.Now().Unix(), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke identity sessions: %w", err)
	}
	return nil
}

// IsIdentityRevoked compares issuedAt with the stored revocation time
func (b *RedisTokenBlacklist) IsIdentityRevoked(ctx context.Context, identityID string, issuedAt time.Time) (bool, error) {
	raw, err := b.client.Get(ctx, b.identityKey(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check identity revocation: %w", err)
	}

	revokedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse revocation timestamp: %w", err)
	}
	return issuedAt.Unix() <= revokedAt, nil
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist keeps revocations in process memory.
// Revocations are not shared between instances.
type InMemoryTokenBlacklist struct {
	mu         sync.Mutex
	tokens     map[string]time.Time // jti -> entry expiry
	identities map[string]time.Time // identity id -> revocation time
	now        func() time.Time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{
		tokens:     make(map[string]time.Time),
		identities: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (b *InMemoryTokenBlacklist) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[jti] = b.now().Add(ttl)
	return nil
}

func (b *InMemoryTokenBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiry, ok := b.tokens[jti]
	if !ok {
		return false, nil
	}
	if b.now().After(expiry) {
		delete(b.tokens, jti)
		return false, nil
	}
	return true, nil
}

func (b *InMemoryTokenBlacklist) RevokeIdentity(_ context.Context, identityID string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identities[identityID] = b.now()
	return nil
}

func (b *InMemoryTokenBlacklist) IsIdentityRevoked(_ context.Context, identityID string, issuedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	revokedAt, ok := b.identities[identityID]
	if !ok {
		return false, nil
	}
	return !issuedAt.After(revokedAt), nil
}

var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
