// Package notification defines the outbound email port
package notification

import "context"

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	Body    string
	// Template names the message kind for logs and metrics
	Template string
}

// Sender delivers templated emails. Callers treat delivery as fire-and-forget:
// a failure is logged and never blocks the subscription lifecycle.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Template names
const (
	TemplateWelcome       = "welcome"
	TemplatePaymentFailed = "payment_failed"
	TemplateCancelled     = "subscription_cancelled"
)

// Welcome renders the signup confirmation
func Welcome(to, name string) Message {
	return Message{
		To:       to,
		Subject:  "Welcome aboard",
		Body:     "Hi " + name + ",\n\nYour subscription is being set up. We will email you once the first payment is confirmed.",
		Template: TemplateWelcome,
	}
}

// PaymentFailed renders the dunning notice
func PaymentFailed(to, name string) Message {
	return Message{
		To:       to,
		Subject:  "We could not process your payment",
		Body:     "Hi " + name + ",\n\nYour latest payment failed. Please update your payment method from the billing portal to keep generating content.",
		Template: TemplatePaymentFailed,
	}
}

// Cancelled renders the cancellation confirmation
func Cancelled(to, name string) Message {
	return Message{
		To:       to,
		Subject:  "Your subscription has ended",
		Body:     "Hi " + name + ",\n\nYour subscription has been cancelled. Your usage history remains available.",
		Template: TemplateCancelled,
	}
}
