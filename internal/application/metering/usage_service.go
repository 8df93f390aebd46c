package metering

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/domain/usage"
)

// DefaultHistoryMonths is how many months the usage summary returns
const DefaultHistoryMonths = 6

// MonthUsage is one month of history
type MonthUsage struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// UsageSummary is the current month snapshot plus recent history
type UsageSummary struct {
	Month   string            `json:"month"`
	Status  subscriber.Status `json:"status"`
	Usage   usage.Snapshot    `json:"usage"`
	History []MonthUsage      `json:"history"`
}

// UsageService reports consumption without recording any
type UsageService struct {
	subscribers subscriber.Repository
	ledger      usage.Ledger
	catalog     *subscriber.Catalog
	clock       shared.Clock
}

// NewUsageService creates a UsageService
func NewUsageService(subscribers subscriber.Repository, ledger usage.Ledger, catalog *subscriber.Catalog, clock shared.Clock) *UsageService {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &UsageService{subscribers: subscribers, ledger: ledger, catalog: catalog, clock: clock}
}

// Summary returns usage for subscriberID. months <= 0 uses DefaultHistoryMonths.
func (s *UsageService) Summary(ctx context.Context, subscriberID uuid.UUID, months int) (*UsageSummary, error) {
	if months <= 0 {
		months = DefaultHistoryMonths
	}
	sub, err := s.subscribers.FindByID(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound.WithMessage("Subscriber not found")
		}
		return nil, shared.ErrInternal.WithCause(err)
	}

	current, err := s.ledger.PeekCurrentUsage(ctx, sub.ID)
	if err != nil {
		return nil, shared.ErrInternal.WithCause(err)
	}
	records, err := s.ledger.History(ctx, sub.ID, months)
	if err != nil {
		return nil, shared.ErrInternal.WithCause(err)
	}

	history := make([]MonthUsage, 0, len(records))
	for _, r := range records {
		history = append(history, MonthUsage{Month: r.Month, Count: r.Count})
	}
	return &UsageSummary{
		Month:   usage.MonthKey(s.clock()),
		Status:  sub.Status,
		Usage:   usage.NewSnapshot(current, s.catalog.QuotaFor(sub.Plan)),
		History: history,
	}, nil
}
