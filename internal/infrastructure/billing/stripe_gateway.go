// Package billing implements billing.Gateway on top of Stripe.
package billing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
)

const (
	// metadataSubscriberID links processor objects back to the local subscriber
	metadataSubscriberID = "subscriber_id"

	// Stripe ends an idle portal session after five minutes
	portalSessionLifetime = 5 * time.Minute

	invoicePageSize = 24
)

var _ billing.Gateway = (*StripeGateway)(nil)

// StripeGateway implements billing.Gateway. Each instance owns its own
// client.API so that no process-wide stripe.Key is needed.
type StripeGateway struct {
	api     *client.API
	config  StripeConfig
	logger  *zap.Logger
	metrics *telemetry.SubscriptionMetrics
}

// GatewayOption configures a StripeGateway
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	backend stripe.Backend
	metrics *telemetry.SubscriptionMetrics
}

// WithBackend replaces the HTTP backend, used by tests
func WithBackend(backend stripe.Backend) GatewayOption {
	return func(o *gatewayOptions) {
		o.backend = backend
	}
}

// WithMetrics records remote call latency
func WithMetrics(metrics *telemetry.SubscriptionMetrics) GatewayOption {
	return func(o *gatewayOptions) {
		o.metrics = metrics
	}
}

// NewStripeGateway creates a gateway. With an empty secret key the gateway is
// still returned but every processor call fails with ErrGatewayUnconfigured.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger, opts ...GatewayOption) (*StripeGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &StripeGateway{
		config:  cfg,
		logger:  logger.Named("stripe"),
		metrics: o.metrics,
	}
	if !cfg.Configured() {
		g.logger.Warn("Stripe secret key not set, billing calls will be refused")
		return g, nil
	}

	backend := o.backend
	if backend == nil {
		backendCfg := &stripe.BackendConfig{
			LeveledLogger:     g.logger.Sugar(),
			MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		}
		if cfg.APIURL != "" {
			backendCfg.URL = stripe.String(cfg.APIURL)
		}
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	}
	g.api = client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return g, nil
}

// call wraps one processor request with a span, latency metric and error translation
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	if g.api == nil {
		return shared.ErrGatewayUnconfigured
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "billing", op, attrs...)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	g.metrics.RecordRemoteCall(ctx, "billing."+op, time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return g.translateError(op, err)
	}
	return nil
}

func (g *StripeGateway) translateError(op string, err error) error {
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		fields = append(fields,
			zap.String("stripe_code", string(stripeErr.Code)),
			zap.String("stripe_type", string(stripeErr.Type)),
			zap.Int("http_status", stripeErr.HTTPStatusCode),
			zap.String("request_id", stripeErr.RequestID),
		)
		g.logger.Warn("Stripe rejected request", fields...)
		return shared.ErrGatewayRejected.
			WithCause(fmt.Errorf("stripe %s: %w", op, err)).
			WithDetails(map[string]any{"operation": op, "code": string(stripeErr.Code)})
	}

	g.logger.Error("Stripe request failed", fields...)
	return shared.ErrGatewayRejected.
		WithCause(fmt.Errorf("stripe %s: %w", op, err)).
		WithDetails(map[string]any{"operation": op})
}

// CreateCustomer creates a new customer in Stripe
func (g *StripeGateway) CreateCustomer(ctx context.Context, input billing.CustomerInput) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(input.Email),
		Name:  stripe.String(input.Name),
	}
	if input.Phone != "" {
		params.Phone = stripe.String(input.Phone)
	}
	if input.Address != nil {
		params.Address = &stripe.AddressParams{
			Line1:      stripe.String(input.Address.Line1),
			City:       stripe.String(input.Address.City),
			PostalCode: stripe.String(input.Address.PostalCode),
			Country:    stripe.String(input.Address.Country),
		}
		if input.Address.Line2 != "" {
			params.Address.Line2 = stripe.String(input.Address.Line2)
		}
		if input.Address.State != "" {
			params.Address.State = stripe.String(input.Address.State)
		}
	}
	if len(input.Metadata) > 0 {
		params.Metadata = maps.Clone(input.Metadata)
	}

	var ref string
	err := g.call(ctx, "create_customer", func(ctx context.Context) error {
		params.Context = ctx
		cust, err := g.api.Customers.New(params)
		if err != nil {
			return err
		}
		ref = cust.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("Created Stripe customer", zap.String("customer_ref", ref))
	return ref, nil
}

// DeleteCustomer deletes a customer from Stripe
func (g *StripeGateway) DeleteCustomer(ctx context.Context, customerRef string) error {
	err := g.call(ctx, "delete_customer", func(ctx context.Context) error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		_, err := g.api.Customers.Del(customerRef, params)
		return err
	}, attribute.String(telemetry.SpanAttrCustomerRef, customerRef))
	if err != nil {
		return err
	}

	g.logger.Info("Deleted Stripe customer", zap.String("customer_ref", customerRef))
	return nil
}

// CreateSubscription creates a subscription left incomplete until the first
// invoice is paid. The returned handle is the payment intent client secret.
func (g *StripeGateway) CreateSubscription(ctx context.Context, input billing.SubscriptionInput) (*billing.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(input.CustomerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(input.PriceRef)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.Metadata = map[string]string{}
	maps.Copy(params.Metadata, input.Metadata)
	if input.SubscriberID != "" {
		params.Metadata[metadataSubscriberID] = input.SubscriberID
	}

	var sub *stripe.Subscription
	err := g.call(ctx, "create_subscription", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sub, err = g.api.Subscriptions.New(params)
		return err
	}, attribute.String(telemetry.SpanAttrCustomerRef, input.CustomerRef))
	if err != nil {
		return nil, err
	}

	g.logger.Info("Created Stripe subscription",
		zap.String("customer_ref", input.CustomerRef),
		zap.String("subscription_ref", sub.ID),
		zap.String("status", string(sub.Status)))
	return toSubscription(sub), nil
}

// RetrieveSubscription fetches the live subscription
func (g *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "retrieve_subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		var err error
		sub, err = g.api.Subscriptions.Get(subscriptionRef, params)
		return err
	}, attribute.String(telemetry.SpanAttrSubscriptionRef, subscriptionRef))
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

// CancelSubscription cancels a subscription immediately. The local status
// follows from the customer.subscription.deleted notification.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "cancel_subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		var err error
		sub, err = g.api.Subscriptions.Cancel(subscriptionRef, params)
		return err
	}, attribute.String(telemetry.SpanAttrSubscriptionRef, subscriptionRef))
	if err != nil {
		return nil, err
	}

	g.logger.Info("Canceled Stripe subscription",
		zap.String("subscription_ref", sub.ID),
		zap.String("status", string(sub.Status)))
	return toSubscription(sub), nil
}

// UpdateSubscription moves the subscription to newPriceRef by replacing the
// price on its existing item, never adding a second item.
func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionRef, newPriceRef string) (*billing.Subscription, error) {
	current, err := g.RetrieveSubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, err
	}
	if current.ItemRef == "" {
		return nil, shared.ErrGatewayRejected.WithMessage("Subscription has no line items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.ItemRef),
				Price: stripe.String(newPriceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}

	var sub *stripe.Subscription
	err = g.call(ctx, "update_subscription", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sub, err = g.api.Subscriptions.Update(subscriptionRef, params)
		return err
	}, attribute.String(telemetry.SpanAttrSubscriptionRef, subscriptionRef))
	if err != nil {
		return nil, err
	}

	g.logger.Info("Updated Stripe subscription",
		zap.String("subscription_ref", sub.ID),
		zap.String("previous_price", current.PriceRef),
		zap.String("new_price", newPriceRef))
	return toSubscription(sub), nil
}

// CreateBillingPortalSession returns a short-lived self-service URL
func (g *StripeGateway) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (*billing.PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerRef),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	var sess *stripe.BillingPortalSession
	err := g.call(ctx, "create_portal_session", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sess, err = g.api.BillingPortalSessions.New(params)
		return err
	}, attribute.String(telemetry.SpanAttrCustomerRef, customerRef))
	if err != nil {
		return nil, err
	}

	created := time.Unix(sess.Created, 0)
	if sess.Created == 0 {
		created = time.Now()
	}
	return &billing.PortalSession{
		URL:       sess.URL,
		ExpiresAt: created.Add(portalSessionLifetime).UTC(),
	}, nil
}

// ListInvoices returns the most recent page of invoices, newest first
func (g *StripeGateway) ListInvoices(ctx context.Context, customerRef string) ([]billing.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerRef),
	}
	params.Limit = stripe.Int64(invoicePageSize)
	params.Single = true

	var invoices []billing.Invoice
	err := g.call(ctx, "list_invoices", func(ctx context.Context) error {
		params.Context = ctx
		iter := g.api.Invoices.List(params)
		for iter.Next() {
			invoices = append(invoices, toInvoice(iter.Invoice()))
		}
		return iter.Err()
	}, attribute.String(telemetry.SpanAttrCustomerRef, customerRef))
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListPaymentMethods returns the customer's stored cards
func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerRef string) ([]billing.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Single = true

	var methods []billing.PaymentMethod
	err := g.call(ctx, "list_payment_methods", func(ctx context.Context) error {
		params.Context = ctx
		iter := g.api.PaymentMethods.List(params)
		for iter.Next() {
			methods = append(methods, toPaymentMethod(iter.PaymentMethod()))
		}
		return iter.Err()
	}, attribute.String(telemetry.SpanAttrCustomerRef, customerRef))
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func toSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		Ref:               sub.ID,
		Status:            billing.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemRef = item.ID
		if item.Price != nil {
			out.PriceRef = item.Price.ID
		}
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoiceRef = sub.LatestInvoice.ID
		if sub.LatestInvoice.PaymentIntent != nil {
			out.PaymentConfirmationHandle = sub.LatestInvoice.PaymentIntent.ClientSecret
		}
	}
	return out
}

func toInvoice(inv *stripe.Invoice) billing.Invoice {
	out := billing.Invoice{
		Ref:        inv.ID,
		Number:     inv.Number,
		Status:     string(inv.Status),
		Currency:   string(inv.Currency),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
		HostedURL:  inv.HostedInvoiceURL,
	}
	if inv.PeriodStart > 0 {
		out.PeriodStart = time.Unix(inv.PeriodStart, 0).UTC()
	}
	if inv.PeriodEnd > 0 {
		out.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
	}
	if inv.Created > 0 {
		out.CreatedAt = time.Unix(inv.Created, 0).UTC()
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) billing.PaymentMethod {
	out := billing.PaymentMethod{
		Ref:  pm.ID,
		Type: string(pm.Type),
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}
