package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already handled.
// It is a fast path only; durable deduplication lives in the datastore.
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been marked
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the store
	Close() error
}

// Clock returns the current time. Injected so month rollover and expiry can be tested.
type Clock func() time.Time

// SystemClock returns the wall-clock time in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}
