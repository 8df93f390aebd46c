package subscription

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/notification"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// Webhook outcomes
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeUnmatched = "unmatched"
)

// WebhookResult is acknowledged to the processor with 200
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

var errUnmatched = errors.New("no subscriber for billing event")

// WebhookService applies verified processor notifications to subscribers
type WebhookService struct {
	gateway  billing.Gateway
	events   billing.EventLog
	dedupe   shared.IdempotencyStore
	notifier notification.Sender
	metrics  *telemetry.SubscriptionMetrics
	secret   string
	cfg      WebhookServiceConfig
}

// WebhookServiceConfig contains the dependencies of a WebhookService
type WebhookServiceConfig struct {
	Gateway billing.Gateway
	Events  billing.EventLog
	// Dedupe is an optional fast path in front of Events
	Dedupe   shared.IdempotencyStore
	Notifier notification.Sender
	Metrics  *telemetry.SubscriptionMetrics
	Secret   string
	Clock    shared.Clock
	// DedupeTTL bounds how long Dedupe remembers an event id
	DedupeTTL time.Duration
}

// NewWebhookService creates a WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock
	}
	return &WebhookService{
		gateway:  cfg.Gateway,
		events:   cfg.Events,
		dedupe:   cfg.Dedupe,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		secret:   cfg.Secret,
		cfg:      cfg,
	}
}

// HandleWebhook verifies payload against signature and applies the event at
// most once. Signature failures return ErrWebhookSignatureInvalid and change
// nothing. Unknown event types and events for unknown subscribers are
// acknowledged without effect.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "handle")
	defer span.End()

	event, err := s.gateway.VerifyWebhookSignature(payload, signature, s.secret)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordWebhookEvent(ctx, "unverified", "rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("event_type", string(event.Type)))

	log := logger.L(ctx).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	finish := func(outcome string) (*WebhookResult, error) {
		result.Outcome = outcome
		s.metrics.RecordWebhookEvent(ctx, string(event.Type), outcome)
		log.Info("Billing event handled", zap.String("outcome", outcome))
		return result, nil
	}

	target, handled := targetStatus(event)
	if !handled {
		return finish(OutcomeIgnored)
	}

	if s.dedupe != nil {
		seen, err := s.dedupe.IsProcessed(ctx, event.ID)
		if err != nil {
			log.Warn("Dedupe store unavailable, relying on event log", zap.Error(err))
		} else if seen {
			return finish(OutcomeDuplicate)
		}
	}

	var (
		affected *subscriber.Subscriber
		changed  bool
	)
	applied, err := s.events.ProcessOnce(ctx, event, func(ctx context.Context, repo subscriber.Repository) error {
		sub, err := findTarget(ctx, repo, event)
		if err != nil {
			return err
		}
		from := sub.Status
		if target != "" {
			changed, err = sub.ApplyStatus(target, s.cfg.Clock())
			if err != nil {
				// Out-of-order delivery; the event is still recorded as processed
				log.Warn("Status transition refused",
					zap.String("subscriber_id", sub.ID.String()),
					zap.String("from", string(sub.Status)),
					zap.String("to", string(target)),
				)
				changed = false
			}
		}
		sub.Renew(event.PeriodEnd)
		affected = sub
		return repo.UpdateBillingState(ctx, sub, from)
	})
	switch {
	case errors.Is(err, errUnmatched):
		log.Warn("No subscriber matches billing event",
			zap.String("billing_customer_ref", event.CustomerRef),
			zap.String("billing_subscription_ref", event.SubscriptionRef),
		)
		return finish(OutcomeUnmatched)
	case err != nil:
		telemetry.RecordError(span, err)
		s.metrics.RecordWebhookEvent(ctx, string(event.Type), "failed")
		log.Error("Failed to apply billing event", zap.Error(err))
		return nil, shared.ErrInternal.WithCause(err)
	}

	s.markProcessed(ctx, event.ID, log)
	if !applied {
		return finish(OutcomeDuplicate)
	}

	if changed {
		log.Info("Subscriber status changed",
			zap.String("subscriber_id", affected.ID.String()),
			zap.String("status", string(affected.Status)),
		)
		s.notifyChange(ctx, affected)
	}
	return finish(OutcomeApplied)
}

func (s *WebhookService) markProcessed(ctx context.Context, eventID string, log *logger.ContextLogger) {
	if s.dedupe == nil {
		return
	}
	if _, err := s.dedupe.MarkProcessed(ctx, eventID, s.cfg.DedupeTTL); err != nil {
		log.Warn("Failed to mark event in dedupe store", zap.Error(err))
	}
}

func (s *WebhookService) notifyChange(ctx context.Context, sub *subscriber.Subscriber) {
	if s.notifier == nil {
		return
	}
	var msg notification.Message
	switch sub.Status {
	case subscriber.StatusPastDue:
		msg = notification.PaymentFailed(sub.Email, sub.DisplayName)
	case subscriber.StatusCancelled:
		msg = notification.Cancelled(sub.Email, sub.DisplayName)
	default:
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		logger.L(ctx).Warn("Notification not sent", zap.String("template", msg.Template), zap.Error(err))
	}
}

// findTarget resolves the subscriber by subscription reference, then customer reference
func findTarget(ctx context.Context, repo subscriber.Repository, event *billing.Event) (*subscriber.Subscriber, error) {
	if event.SubscriptionRef != "" {
		sub, err := repo.FindByBillingSubscriptionRef(ctx, event.SubscriptionRef)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	if event.CustomerRef != "" {
		sub, err := repo.FindByBillingCustomerRef(ctx, event.CustomerRef)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errUnmatched
}

// targetStatus maps an event to the subscriber status it implies. An empty
// status with handled=true means the event only renews the billing period.
func targetStatus(event *billing.Event) (subscriber.Status, bool) {
	switch event.Type {
	case billing.EventInvoicePaid:
		return subscriber.StatusActive, true
	case billing.EventInvoicePaymentFailed:
		return subscriber.StatusPastDue, true
	case billing.EventSubscriptionDeleted:
		return subscriber.StatusCancelled, true
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		switch event.SubscriptionStatus {
		case billing.SubscriptionActive, billing.SubscriptionTrialing:
			return subscriber.StatusActive, true
		case billing.SubscriptionPastDue, billing.SubscriptionUnpaid:
			return subscriber.StatusPastDue, true
		case billing.SubscriptionCanceled, billing.SubscriptionIncompleteExpired:
			return subscriber.StatusCancelled, true
		default:
			return "", true
		}
	default:
		return "", false
	}
}
