package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/meterly/backend/internal/domain/subscriber"
)

// LoginInput contains the credentials for a login
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult contains the issued session token
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	IdentityID  uuid.UUID `json:"identity_id"`
}

// CurrentSubscriberResult describes the logged-in subscriber
type CurrentSubscriberResult struct {
	SubscriberID    uuid.UUID           `json:"subscriber_id"`
	Email           string              `json:"email"`
	DisplayName     string              `json:"display_name,omitempty"`
	BusinessName    string              `json:"business_name,omitempty"`
	Plan            subscriber.PlanType `json:"plan,omitempty"`
	Status          subscriber.Status   `json:"status"`
	SubscriptionEnd *time.Time          `json:"subscription_end,omitempty"`
}
