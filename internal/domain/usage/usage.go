// Package usage models per-subscriber monthly consumption of metered actions.
//
// A Record exists at most once per (subscriber, month). Counts only grow within a
// month and are never deleted, so past months remain available for reporting.
package usage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// MonthLayout is the layout of month keys (YYYY-MM)
const MonthLayout = "2006-01"

// MonthKey truncates t to its UTC calendar month
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// Record is one subscriber's consumption for one calendar month
type Record struct {
	SubscriberID uuid.UUID
	Month        string
	Count        int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot is the caller-facing view of quota consumption
type Snapshot struct {
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// NewSnapshot builds a snapshot; remaining never goes below zero
func NewSnapshot(current, limit int64) Snapshot {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{Current: current, Limit: limit, Remaining: remaining}
}

// Exhausted reports whether no further actions are allowed
func (s Snapshot) Exhausted() bool {
	return s.Current >= s.Limit
}

// Ledger is the authoritative count of metered actions
type Ledger interface {
	// GetCurrentUsage returns this month's count, creating a zero record if none exists.
	// Concurrent first reads never create more than one record.
	GetCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error)

	// PeekCurrentUsage returns this month's count without creating a record
	PeekCurrentUsage(ctx context.Context, subscriberID uuid.UUID) (int64, error)

	// Increment atomically adds one to this month's count and returns the new value
	Increment(ctx context.Context, subscriberID uuid.UUID) (int64, error)

	// History returns up to months records, newest first
	History(ctx context.Context, subscriberID uuid.UUID, months int) ([]Record, error)
}

// DeniedError is returned by the gate when an action is refused for a reason the
// caller can render, such as "50/50 used" or an inactive subscription.
type DeniedError struct {
	Kind   *shared.DomainError
	Usage  Snapshot
	Status string
}

// NewQuotaExceededError reports the current usage against the limit
func NewQuotaExceededError(current, limit int64) *DeniedError {
	return &DeniedError{Kind: shared.ErrQuotaExceeded, Usage: NewSnapshot(current, limit)}
}

// NewSubscriptionInactiveError reports the blocking status alongside usage
func NewSubscriptionInactiveError(status string, current, limit int64) *DeniedError {
	return &DeniedError{Kind: shared.ErrSubscriptionInactive, Usage: NewSnapshot(current, limit), Status: status}
}

// Error implements the error interface
func (e *DeniedError) Error() string {
	if e.Kind.Code == shared.CodeSubscriptionInactive {
		return fmt.Sprintf("%s (status %s)", e.Kind.Message, e.Status)
	}
	return fmt.Sprintf("%s: %d of %d used", e.Kind.Message, e.Usage.Current, e.Usage.Limit)
}

// Unwrap exposes the underlying kind for errors.Is
func (e *DeniedError) Unwrap() error {
	return e.Kind
}

// HTTPStatusCode returns the HTTP status for this denial
func (e *DeniedError) HTTPStatusCode() int {
	if e.Kind.Code == shared.CodeQuotaExceeded {
		return http.StatusTooManyRequests
	}
	return http.StatusPaymentRequired
}

// Details returns the machine-readable payload for the error response
func (e *DeniedError) Details() map[string]any {
	d := map[string]any{"usage": e.Usage}
	if e.Status != "" {
		d["status"] = e.Status
	}
	return d
}
