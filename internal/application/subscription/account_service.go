package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meterly/backend/internal/application/validation"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/domain/subscriber"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

// zeroDecimalCurrencies have no minor unit
var zeroDecimalCurrencies = map[string]bool{"jpy": true, "krw": true, "vnd": true, "clp": true}

// PortalLink is a self-service billing URL
type PortalLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InvoiceView is an invoice with amounts in major units
type InvoiceView struct {
	Ref        string          `json:"ref"`
	Number     string          `json:"number"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	// Minor-unit amounts as reported by the processor
	AmountDueMinor  int64     `json:"amount_due_minor"`
	AmountPaidMinor int64     `json:"amount_paid_minor"`
	HostedURL       string    `json:"hosted_url,omitempty"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}

// BillingOverview summarises a subscriber's billing state
type BillingOverview struct {
	SubscriberID    uuid.UUID               `json:"subscriber_id"`
	Plan            subscriber.PlanType     `json:"plan"`
	PlanPrice       decimal.Decimal         `json:"plan_price"`
	Status          subscriber.Status       `json:"status"`
	SubscriptionEnd *time.Time              `json:"subscription_end,omitempty"`
	Invoices        []InvoiceView           `json:"invoices"`
	PaymentMethods  []billing.PaymentMethod `json:"payment_methods"`
}

// AccountService handles self-service billing for an authenticated subscriber
type AccountService struct {
	gateway     billing.Gateway
	subscribers subscriber.Repository
	catalog     *subscriber.Catalog
	timeouts    config.TimeoutsConfig
	returnURL   string
	currency    string
}

// NewAccountService creates an AccountService. baseURL is where the billing
// portal sends the subscriber back to.
func NewAccountService(gateway billing.Gateway, subscribers subscriber.Repository, catalog *subscriber.Catalog, timeouts config.TimeoutsConfig, baseURL, currency string) *AccountService {
	if currency == "" {
		currency = "usd"
	}
	return &AccountService{
		gateway:     gateway,
		subscribers: subscribers,
		catalog:     catalog,
		timeouts:    timeouts,
		returnURL:   strings.TrimRight(baseURL, "/") + "/account",
		currency:    strings.ToLower(currency),
	}
}

// PortalLink opens a billing portal session for the subscriber
func (s *AccountService) PortalLink(ctx context.Context, subscriberID uuid.UUID) (*PortalLink, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", "portal_link")
	defer span.End()

	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	bctx, cancel := context.WithTimeout(ctx, s.timeouts.Billing)
	defer cancel()
	session, err := s.gateway.CreateBillingPortalSession(bctx, sub.BillingCustomerRef, s.returnURL)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &PortalLink{URL: session.URL, ExpiresAt: session.ExpiresAt}, nil
}

// Overview returns plan, status, invoices and payment methods. Invoices and
// payment methods are fetched concurrently.
func (s *AccountService) Overview(ctx context.Context, subscriberID uuid.UUID) (*BillingOverview, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", "overview")
	defer span.End()

	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	var (
		invoices []billing.Invoice
		methods  []billing.PaymentMethod
	)
	bctx, cancel := context.WithTimeout(ctx, s.timeouts.Billing)
	defer cancel()
	g, gctx := errgroup.WithContext(bctx)
	g.Go(func() error {
		var err error
		invoices, err = s.gateway.ListInvoices(gctx, sub.BillingCustomerRef)
		return err
	})
	g.Go(func() error {
		var err error
		methods, err = s.gateway.ListPaymentMethods(gctx, sub.BillingCustomerRef)
		return err
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, InvoiceView{
			Ref:             inv.Ref,
			Number:          inv.Number,
			Status:          inv.Status,
			Currency:        inv.Currency,
			AmountDue:       MajorUnits(inv.AmountDue, inv.Currency),
			AmountPaid:      MajorUnits(inv.AmountPaid, inv.Currency),
			AmountDueMinor:  inv.AmountDue,
			AmountPaidMinor: inv.AmountPaid,
			HostedURL:       inv.HostedURL,
			PeriodStart:     inv.PeriodStart,
			PeriodEnd:       inv.PeriodEnd,
		})
	}
	if methods == nil {
		methods = []billing.PaymentMethod{}
	}

	return &BillingOverview{
		SubscriberID:    sub.ID,
		Plan:            sub.Plan,
		PlanPrice:       MajorUnits(sub.PlanPrice, s.currency),
		Status:          sub.Status,
		SubscriptionEnd: sub.SubscriptionEnd,
		Invoices:        views,
		PaymentMethods:  methods,
	}, nil
}

// ChangePlan swaps the subscription's price with the processor, then records
// the new plan locally
func (s *AccountService) ChangePlan(ctx context.Context, subscriberID uuid.UUID, req ChangePlanRequest) (*subscriber.Subscriber, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", "change_plan")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	plan, err := s.catalog.Resolve(subscriber.PlanType(req.Plan))
	if err != nil {
		return nil, err
	}

	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscriber.StatusCancelled {
		return nil, shared.ErrInvalidState.WithMessage("Subscription is cancelled")
	}
	if sub.Plan == plan.Type {
		return sub, nil
	}

	bctx, cancel := context.WithTimeout(ctx, s.timeouts.Billing)
	_, err = s.gateway.UpdateSubscription(bctx, sub.BillingSubscriptionRef, plan.PriceRef)
	cancel()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := sub.ChangePlan(plan); err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, s.timeouts.Datastore)
	defer cancel()
	if err := s.subscribers.UpdatePlan(dctx, sub); err != nil {
		logger.L(ctx).Error("Plan changed with processor but not saved locally",
			zap.String("plan", string(plan.Type)), zap.Error(err))
		return nil, shared.ErrInternal.WithCause(err)
	}

	logger.L(ctx).Info("Plan changed", zap.String("plan", string(plan.Type)))
	return sub, nil
}

// Cancel asks the processor to cancel the subscription. The local status
// follows when the processor's deletion notification arrives.
func (s *AccountService) Cancel(ctx context.Context, subscriberID uuid.UUID) (*billing.Subscription, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "account", "cancel")
	defer span.End()

	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscriber.StatusCancelled {
		return nil, shared.ErrInvalidState.WithMessage("Subscription is already cancelled")
	}

	bctx, cancel := context.WithTimeout(ctx, s.timeouts.Billing)
	defer cancel()
	remote, err := s.gateway.CancelSubscription(bctx, sub.BillingSubscriptionRef)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	logger.L(ctx).Info("Cancellation requested", zap.String("billing_status", string(remote.Status)))
	return remote, nil
}

func (s *AccountService) load(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Datastore)
	defer cancel()
	sub, err := s.subscribers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound.WithMessage("Subscriber not found")
		}
		return nil, shared.ErrInternal.WithCause(err)
	}
	return sub, nil
}

// MajorUnits converts an amount in minor units to major units for currency
func MajorUnits(minor int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}
