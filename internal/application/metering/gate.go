// Package metering authorises and counts metered actions against each
// subscriber's monthly quota.
package metering

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/application/validation"
	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/domain/usage"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/content"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// Gate decisions, used as metric attributes
const (
	DecisionAllowed         = "allowed"
	DecisionUnauthenticated = "unauthenticated"
	DecisionInactive        = "inactive"
	DecisionQuotaExceeded   = "quota_exceeded"
	DecisionActionFailed    = "action_failed"
)

// MeteredActionRequest is the validated payload of one metered action
type MeteredActionRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=social_post blog_outline email"`
	Topic string `json:"topic" validate:"required,notblank,max=280"`
	Tone  string `json:"tone" validate:"omitempty,oneof=friendly professional playful"`
}

// Outcome is the result of an allowed action. UsageRecorded is false when the
// action ran but the ledger increment failed.
type Outcome struct {
	Result        *content.Draft `json:"result"`
	Usage         usage.Snapshot `json:"usage"`
	UsageRecorded bool           `json:"usage_recorded"`
}

// Action produces the metered asset
type Action interface {
	Generate(ctx context.Context, req content.Request) (*content.Draft, error)
}

// Gate checks session, subscription status and quota before every metered action
type Gate struct {
	identities  identity.Provisioner
	subscribers subscriber.Repository
	ledger      usage.Ledger
	catalog     *subscriber.Catalog
	action      Action
	metrics     *telemetry.SubscriptionMetrics
	timeouts    config.TimeoutsConfig
}

// NewGate creates a Gate. metrics may be nil.
func NewGate(identities identity.Provisioner, subscribers subscriber.Repository, ledger usage.Ledger,
	catalog *subscriber.Catalog, action Action, metrics *telemetry.SubscriptionMetrics, timeouts config.TimeoutsConfig) *Gate {
	return &Gate{
		identities:  identities,
		subscribers: subscribers,
		ledger:      ledger,
		catalog:     catalog,
		action:      action,
		metrics:     metrics,
		timeouts:    timeouts,
	}
}

// Perform runs one metered action for the owner of token. Checks run in order:
// session, subscription status, quota. The count is incremented only after
// the action succeeds.
func (g *Gate) Perform(ctx context.Context, token string, req MeteredActionRequest) (*Outcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gate", "perform", attribute.String("kind", req.Kind))
	defer span.End()

	session, err := g.session(ctx, token)
	if err != nil {
		g.metrics.RecordGateDecision(ctx, DecisionUnauthenticated)
		return nil, err
	}
	ctx = logger.WithSubscriberID(ctx, session.IdentityID.String())

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	sub, err := g.Authorize(ctx, session.IdentityID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	limit := g.catalog.QuotaFor(sub.Plan)

	tone := content.Tone(req.Tone)
	if tone == "" {
		tone = content.ToneFriendly
	}
	draft, err := g.action.Generate(ctx, content.Request{
		Kind:         content.Kind(req.Kind),
		Topic:        req.Topic,
		Tone:         tone,
		BusinessName: sub.BusinessName,
	})
	if err != nil {
		g.metrics.RecordGateDecision(ctx, DecisionActionFailed)
		telemetry.RecordError(span, err)
		var de *shared.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, shared.ErrInternal.WithCause(err)
	}

	out := &Outcome{Result: draft, UsageRecorded: true}
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeouts.Datastore)
	defer cancel()
	count, err := g.ledger.Increment(ictx, sub.ID)
	if err != nil {
		logger.L(ctx).Error("Metered action delivered but not counted", zap.Error(err))
		telemetry.RecordError(span, err)
		out.UsageRecorded = false
		current, peekErr := g.ledger.PeekCurrentUsage(ictx, sub.ID)
		if peekErr != nil {
			current = 0
		}
		out.Usage = usage.NewSnapshot(current, limit)
	} else {
		out.Usage = usage.NewSnapshot(count, limit)
	}

	g.metrics.RecordGateDecision(ctx, DecisionAllowed)
	return out, nil
}

// Authorize loads the subscriber and checks status and quota without running
// an action. It returns a *usage.DeniedError when the action is refused.
func (g *Gate) Authorize(ctx context.Context, subscriberID uuid.UUID) (*subscriber.Subscriber, error) {
	dctx, cancel := context.WithTimeout(ctx, g.timeouts.Datastore)
	defer cancel()

	sub, err := g.subscribers.FindByID(dctx, subscriberID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrInternal.WithCause(err)
	}
	if sub == nil {
		// Identity exists but the signup never completed
		g.metrics.RecordGateDecision(ctx, DecisionInactive)
		return nil, usage.NewSubscriptionInactiveError(string(subscriber.StatusPending), 0, subscriber.DefaultMonthlyQuota)
	}
	limit := g.catalog.QuotaFor(sub.Plan)

	if !sub.IsActive() {
		current, err := g.ledger.PeekCurrentUsage(dctx, sub.ID)
		if err != nil {
			return nil, shared.ErrInternal.WithCause(err)
		}
		g.metrics.RecordGateDecision(ctx, DecisionInactive)
		return nil, usage.NewSubscriptionInactiveError(string(sub.Status), current, limit)
	}

	current, err := g.ledger.GetCurrentUsage(dctx, sub.ID)
	if err != nil {
		return nil, shared.ErrInternal.WithCause(err)
	}
	if current >= limit {
		g.metrics.RecordGateDecision(ctx, DecisionQuotaExceeded)
		logger.L(ctx).Info("Metered action refused, quota exhausted",
			zap.Int64("current", current), zap.Int64("limit", limit))
		return nil, usage.NewQuotaExceededError(current, limit)
	}
	return sub, nil
}

func (g *Gate) session(ctx context.Context, token string) (*identity.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Identity)
	defer cancel()
	session, err := g.identities.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrIdentityStoreUnavailable) {
			return nil, err
		}
		return nil, shared.ErrUnauthenticated.WithCause(err)
	}
	return session, nil
}
