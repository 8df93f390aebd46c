package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/logger"
)

// RepairReport summarises a RepairAll run
type RepairReport struct {
	Repaired int
	Failed   int
}

// ReconciliationService writes the subscriber rows of signups whose final
// datastore write failed
type ReconciliationService struct {
	cases       subscriber.ReconciliationRepository
	subscribers subscriber.Repository
	clock       shared.Clock
}

// NewReconciliationService creates a ReconciliationService
func NewReconciliationService(cases subscriber.ReconciliationRepository, subscribers subscriber.Repository, clock shared.Clock) *ReconciliationService {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &ReconciliationService{cases: cases, subscribers: subscribers, clock: clock}
}

// ListOpen returns unresolved cases, oldest first
func (s *ReconciliationService) ListOpen(ctx context.Context, limit int) ([]*subscriber.ReconciliationCase, error) {
	return s.cases.ListOpen(ctx, limit)
}

// Repair writes the subscriber row for a case and resolves it. A row that
// already exists with the same id counts as repaired.
func (s *ReconciliationService) Repair(ctx context.Context, caseID uuid.UUID) (*subscriber.ReconciliationCase, error) {
	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == subscriber.CaseResolved {
		return c, nil
	}

	if err := s.subscribers.Create(ctx, c.Subscriber()); err != nil {
		if !errors.Is(err, shared.ErrDuplicateSubscriber) {
			return nil, err
		}
		existing, ferr := s.subscribers.FindByEmail(ctx, c.Email)
		if ferr != nil || existing.ID != c.SubscriberID {
			return nil, shared.ErrAlreadyExists.WithMessage("Another subscriber holds this email").WithCause(err)
		}
	}

	c.Resolve(s.clock())
	if err := s.cases.Save(ctx, c); err != nil {
		return nil, err
	}
	logger.L(ctx).Info("Reconciliation case resolved",
		zap.String("case_id", c.ID.String()),
		zap.String("subscriber_id", c.SubscriberID.String()),
	)
	return c, nil
}

// RepairAll repairs up to limit open cases, continuing past failures
func (s *ReconciliationService) RepairAll(ctx context.Context, limit int) (RepairReport, error) {
	var report RepairReport
	open, err := s.cases.ListOpen(ctx, limit)
	if err != nil {
		return report, err
	}
	for _, c := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.Repair(ctx, c.ID); err != nil {
			report.Failed++
			logger.L(ctx).Warn("Reconciliation repair failed",
				zap.String("case_id", c.ID.String()), zap.Error(err))
			continue
		}
		report.Repaired++
	}
	return report, nil
}
