// Package subscription runs the subscriber lifecycle: signup across the identity
// store, the payment processor and the datastore, and the asynchronous status
// changes delivered by processor webhooks.
package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/application/validation"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/identity"
	"github.com/meterly/backend/internal/domain/notification"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// Signup stages, reported on failure
const (
	StageValidating          = "validating"
	StageIdentityCreated     = "identity_created"
	StageCustomerCreated     = "customer_created"
	StageSubscriptionCreated = "subscription_created"
)

// Orchestrator provisions a subscriber across every external system
type Orchestrator struct {
	identities  identity.Provisioner
	gateway     billing.Gateway
	subscribers subscriber.Repository
	cases       subscriber.ReconciliationRepository
	catalog     *subscriber.Catalog
	notifier    notification.Sender
	metrics     *telemetry.SubscriptionMetrics
	timeouts    config.TimeoutsConfig
	clock       shared.Clock
	logger      *zap.Logger
}

// OrchestratorConfig contains the dependencies of an Orchestrator
type OrchestratorConfig struct {
	Identities  identity.Provisioner
	Gateway     billing.Gateway
	Subscribers subscriber.Repository
	Cases       subscriber.ReconciliationRepository
	Catalog     *subscriber.Catalog
	Notifier    notification.Sender
	Metrics     *telemetry.SubscriptionMetrics
	Timeouts    config.TimeoutsConfig
	Clock       shared.Clock
	Logger      *zap.Logger
}

// NewOrchestrator creates an Orchestrator. Notifier, Metrics and Clock are optional.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		identities:  cfg.Identities,
		gateway:     cfg.Gateway,
		subscribers: cfg.Subscribers,
		cases:       cfg.Cases,
		catalog:     cfg.Catalog,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		timeouts:    cfg.Timeouts,
		clock:       cfg.Clock,
		logger:      cfg.Logger.Named("orchestrator"),
	}
}

// Signup validates req, then creates the identity, the billing customer, the
// billing subscription and the pending subscriber row, in that order. A billing
// failure undoes the completed steps and returns ErrBillingProvisionFailed. A
// failure to write the row records a reconciliation case and returns
// ErrReconciliationRequired; the remote resources are kept.
func (o *Orchestrator) Signup(ctx context.Context, req SignupRequest) (_ *SignupResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "signup",
		attribute.String("plan", req.Plan))
	defer span.End()

	stage := StageValidating
	defer func() {
		if err != nil {
			if de, ok := err.(*shared.DomainError); ok {
				err = de.WithDetail("stage", stage)
			}
			span.SetAttributes(attribute.String(telemetry.SpanAttrStage, stage))
			telemetry.RecordError(span, err)
			o.metrics.RecordSignup(ctx, req.Plan, outcomeOf(err))
			logger.L(ctx).Warn("Signup failed", zap.String("stage", stage), zap.Error(err))
		}
	}()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	plan, err := o.catalog.Resolve(subscriber.PlanType(req.Plan))
	if err != nil {
		return nil, err
	}
	email := subscriber.NormalizeEmail(req.Email)

	exists, err := o.existsByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInternal.WithCause(err)
	}
	if exists {
		return nil, shared.ErrDuplicateSubscriber
	}

	comp := &compensator{metrics: o.metrics}

	ident, err := o.createIdentity(ctx, email, req)
	if err != nil {
		if errors.Is(err, shared.ErrIdentityAlreadyExists) {
			return nil, shared.ErrDuplicateSubscriber.WithCause(err)
		}
		return nil, err
	}
	stage = StageIdentityCreated
	comp.push(stepDeleteIdentity, o.timeouts.Identity, func(ctx context.Context) error {
		return o.identities.DeleteIdentity(ctx, ident.ID)
	})
	ctx = logger.WithSubscriberID(ctx, ident.ID.String())

	customerRef, err := o.createCustomer(ctx, ident, req)
	if err != nil {
		comp.run(ctx)
		return nil, shared.ErrBillingProvisionFailed.WithCause(err)
	}
	stage = StageCustomerCreated
	comp.push(stepDeleteCustomer, o.timeouts.Billing, func(ctx context.Context) error {
		return o.gateway.DeleteCustomer(ctx, customerRef)
	})

	sub, err := o.createSubscription(ctx, customerRef, plan, ident.ID.String())
	if err != nil {
		comp.run(ctx)
		return nil, shared.ErrBillingProvisionFailed.WithCause(err)
	}
	stage = StageSubscriptionCreated

	record, err := subscriber.NewSubscriber(subscriber.NewSubscriberInput{
		ID:                     ident.ID,
		Email:                  email,
		DisplayName:            req.DisplayName,
		BusinessName:           req.BusinessName,
		Plan:                   plan,
		BillingCustomerRef:     customerRef,
		BillingSubscriptionRef: sub.Ref,
		SubscriptionStart:      o.clock(),
		SubscriptionEnd:        periodEnd(sub),
	})
	if err == nil {
		err = o.persist(ctx, record)
	}
	if err != nil {
		o.openCase(ctx, record, ident.ID, req, plan, customerRef, sub.Ref, err)
		return nil, shared.ErrReconciliationRequired.WithCause(err).WithDetails(map[string]any{
			"subscriber_id": ident.ID.String(),
		})
	}

	o.metrics.RecordSignup(ctx, req.Plan, "succeeded")
	logger.L(ctx).Info("Subscriber signed up",
		zap.String("plan", req.Plan),
		zap.String("billing_customer_ref", customerRef),
		zap.String("billing_subscription_ref", sub.Ref),
	)
	o.notify(ctx, notification.Welcome(record.Email, record.DisplayName))

	return &SignupResult{
		SubscriberID:              record.ID,
		BillingCustomerRef:        customerRef,
		BillingSubscriptionRef:    sub.Ref,
		PaymentConfirmationHandle: sub.PaymentConfirmationHandle,
		Status:                    record.Status,
	}, nil
}

func (o *Orchestrator) existsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Datastore)
	defer cancel()
	return o.subscribers.ExistsByEmail(ctx, email)
}

func (o *Orchestrator) createIdentity(ctx context.Context, email string, req SignupRequest) (*identity.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Identity)
	defer cancel()
	return o.identities.CreateIdentity(ctx, email, req.Password, identity.ProfileMetadata{
		DisplayName:  req.DisplayName,
		BusinessName: req.BusinessName,
		Plan:         req.Plan,
	})
}

func (o *Orchestrator) createCustomer(ctx context.Context, ident *identity.Identity, req SignupRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Billing)
	defer cancel()

	name := req.BusinessName
	if name == "" {
		name = req.DisplayName
	}
	return o.gateway.CreateCustomer(ctx, billing.CustomerInput{
		Email:   ident.Email,
		Name:    name,
		Phone:   req.Phone,
		Address: req.billingAddress(),
		Metadata: map[string]string{
			"subscriber_id": ident.ID.String(),
			"plan":          req.Plan,
		},
	})
}

func (o *Orchestrator) createSubscription(ctx context.Context, customerRef string, plan subscriber.Plan, subscriberID string) (*billing.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Billing)
	defer cancel()
	return o.gateway.CreateSubscription(ctx, billing.SubscriptionInput{
		CustomerRef:  customerRef,
		PriceRef:     plan.PriceRef,
		SubscriberID: subscriberID,
		Metadata:     map[string]string{"plan": string(plan.Type)},
	})
}

func (o *Orchestrator) persist(ctx context.Context, s *subscriber.Subscriber) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Datastore)
	defer cancel()
	return o.subscribers.Create(ctx, s)
}

// openCase records everything needed to write the subscriber row later
func (o *Orchestrator) openCase(ctx context.Context, record *subscriber.Subscriber, id uuid.UUID, req SignupRequest, plan subscriber.Plan, customerRef, subscriptionRef string, cause error) {
	log := logger.L(ctx)
	if record == nil {
		record = &subscriber.Subscriber{
			ID:                     id,
			Email:                  subscriber.NormalizeEmail(req.Email),
			DisplayName:            req.DisplayName,
			BusinessName:           req.BusinessName,
			Plan:                   plan.Type,
			PlanPrice:              plan.PriceMinor,
			BillingCustomerRef:     customerRef,
			BillingSubscriptionRef: subscriptionRef,
		}
	}

	c := subscriber.NewReconciliationCase(record, cause.Error())
	c.CreatedAt = o.clock()

	caseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeouts.Datastore)
	defer cancel()
	if err := o.cases.Record(caseCtx, c); err != nil {
		log.Error("Failed to record reconciliation case, remote resources are orphaned",
			zap.String("billing_customer_ref", customerRef),
			zap.String("billing_subscription_ref", subscriptionRef),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	log.Error("Subscriber row not written, reconciliation case opened",
		zap.String("case_id", c.ID.String()),
		zap.Error(cause),
	)
}

func (o *Orchestrator) notify(ctx context.Context, msg notification.Message) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Send(ctx, msg); err != nil {
		logger.L(ctx).Warn("Notification not sent", zap.String("template", msg.Template), zap.Error(err))
	}
}

func periodEnd(s *billing.Subscription) *time.Time {
	if s.CurrentPeriodEnd.IsZero() {
		return nil
	}
	end := s.CurrentPeriodEnd.UTC()
	return &end
}

// outcomeOf names a signup failure for metrics
func outcomeOf(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return shared.CodeInternal
}
