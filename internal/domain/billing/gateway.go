// Package billing defines the port to the external payment processor.
//
// The processor owns customers, subscriptions, invoices and payment methods. The
// service keeps only opaque references to them plus the subscriber status derived
// from signed processor notifications.
//
// Every implementation translates its own failures into the shared error taxonomy:
//   - shared.ErrGatewayUnconfigured when no processor credentials are present
//   - shared.ErrGatewayRejected when the processor refuses a request
//   - shared.ErrWebhookSignatureInvalid when a notification fails verification
//
// Mutating operations are not idempotent. Callers pre-check local state instead of
// retrying.
package billing

import (
	"context"
	"time"
)

// Gateway is the single choke point for payment processor calls
type Gateway interface {
	CreateCustomer(ctx context.Context, input CustomerInput) (string, error)
	DeleteCustomer(ctx context.Context, customerRef string) error

	// CreateSubscription leaves the subscription awaiting payment; it never blocks on confirmation
	CreateSubscription(ctx context.Context, input SubscriptionInput) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)
	// UpdateSubscription swaps the existing line item to newPriceRef
	UpdateSubscription(ctx context.Context, subscriptionRef, newPriceRef string) (*Subscription, error)

	CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (*PortalSession, error)
	ListInvoices(ctx context.Context, customerRef string) ([]Invoice, error)
	ListPaymentMethods(ctx context.Context, customerRef string) ([]PaymentMethod, error)

	VerifyWebhookSignature(payload []byte, signature, secret string) (*Event, error)
}

// Address is a postal address attached to a billing customer
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CustomerInput holds the data for a new billing customer
type CustomerInput struct {
	Email    string
	Name     string
	Phone    string
	Address  *Address
	Metadata map[string]string
}

// SubscriptionInput holds the data for a new billing subscription
type SubscriptionInput struct {
	CustomerRef  string
	PriceRef     string
	SubscriberID string
	Metadata     map[string]string
}

// SubscriptionStatus is the processor's view of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

// Subscription is the projection of a processor subscription
type Subscription struct {
	Ref                string
	CustomerRef        string
	Status             SubscriptionStatus
	ItemRef            string
	PriceRef           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	LatestInvoiceRef   string
	// PaymentConfirmationHandle is the client secret used to confirm the first payment
	PaymentConfirmationHandle string
}

// PortalSession is a time-limited self-service billing URL
type PortalSession struct {
	URL       string
	ExpiresAt time.Time
}

// Invoice is a read-only view of a processor invoice
type Invoice struct {
	Ref         string    `json:"ref"`
	Number      string    `json:"number"`
	Status      string    `json:"status"`
	Currency    string    `json:"currency"`
	AmountDue   int64     `json:"amount_due"`
	AmountPaid  int64     `json:"amount_paid"`
	HostedURL   string    `json:"hosted_url,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentMethod is a read-only view of a stored card
type PaymentMethod struct {
	Ref      string `json:"ref"`
	Type     string `json:"type"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int64  `json:"exp_month,omitempty"`
	ExpYear  int64  `json:"exp_year,omitempty"`
}
