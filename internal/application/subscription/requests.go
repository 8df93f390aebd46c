package subscription

import (
	"github.com/google/uuid"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/subscriber"
)

// SignupAddress is the optional billing address
type SignupAddress struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// SignupRequest is the validated signup payload
type SignupRequest struct {
	Email        string         `json:"email" validate:"required,email,max=320"`
	Password     string         `json:"password" validate:"required,min=8,max=72"`
	DisplayName  string         `json:"display_name" validate:"required,notblank,max=200"`
	BusinessName string         `json:"business_name" validate:"max=200"`
	Phone        string         `json:"phone" validate:"omitempty,e164"`
	Plan         string         `json:"plan" validate:"required,oneof=monthly annual"`
	Address      *SignupAddress `json:"address" validate:"omitempty"`
}

func (r SignupRequest) billingAddress() *billing.Address {
	if r.Address == nil {
		return nil
	}
	return &billing.Address{
		Line1:      r.Address.Line1,
		Line2:      r.Address.Line2,
		City:       r.Address.City,
		State:      r.Address.State,
		PostalCode: r.Address.PostalCode,
		Country:    r.Address.Country,
	}
}

// SignupResult is returned once the subscriber row is written
type SignupResult struct {
	SubscriberID              uuid.UUID         `json:"subscriber_id"`
	BillingCustomerRef        string            `json:"billing_customer_ref"`
	BillingSubscriptionRef    string            `json:"billing_subscription_ref"`
	PaymentConfirmationHandle string            `json:"payment_confirmation_handle"`
	Status                    subscriber.Status `json:"status"`
}

// ChangePlanRequest selects a new plan
type ChangePlanRequest struct {
	Plan string `json:"plan" validate:"required,oneof=monthly annual"`
}
