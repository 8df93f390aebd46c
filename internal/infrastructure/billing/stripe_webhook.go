package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
)

// VerifyWebhookSignature checks the Stripe-Signature header against secret and
// reduces the event to the fields the subscription lifecycle needs. It needs
// no API key, so it works on an unconfigured gateway.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (*billing.Event, error) {
	if secret == "" {
		return nil, shared.ErrGatewayUnconfigured.WithMessage("Webhook secret is not configured")
	}
	if signature == "" {
		return nil, shared.ErrWebhookSignatureInvalid.WithMessage("Missing signature header")
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger.Warn("Webhook signature rejected", zap.Error(err))
		return nil, shared.ErrWebhookSignatureInvalid.WithCause(err)
	}

	out := &billing.Event{
		ID:        evt.ID,
		Type:      billing.EventType(evt.Type),
		CreatedAt: time.Unix(evt.Created, 0).UTC(),
		Livemode:  evt.Livemode,
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(string(evt.Type), "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, shared.ErrValidation.WithMessage("Malformed invoice payload").WithCause(err)
		}
		if inv.Customer != nil {
			out.CustomerRef = inv.Customer.ID
		}
		if inv.Subscription != nil {
			out.SubscriptionRef = inv.Subscription.ID
		}

	case strings.HasPrefix(string(evt.Type), "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, shared.ErrValidation.WithMessage("Malformed subscription payload").WithCause(err)
		}
		out.SubscriptionRef = sub.ID
		out.SubscriptionStatus = billing.SubscriptionStatus(sub.Status)
		if sub.Customer != nil {
			out.CustomerRef = sub.Customer.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
	}

	return out, nil
}
