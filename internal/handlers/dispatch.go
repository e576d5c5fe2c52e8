package handlers

import (
	"github.com/imrishuroy/go-webhook-relay/internal/events"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

const ProviderStripe = "stripe"

// Stripe event types with a dedicated domain event.
const (
	stripeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	stripeSubscriptionUpdated     = "customer.subscription.updated"
)

// DomainEvent is one event derived from a webhook delivery.
type DomainEvent struct {
	Name    string
	Payload map[string]any
}

// MapWebhook translates a verified delivery into domain events. Every payload carries
// the tenant handle active for the request.
func MapWebhook(provider string, payload map[string]any, h tenant.Handle) []DomainEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	out := map[string]any{}
	h.Apply(out)

	if provider != ProviderStripe {
		out["provider"] = provider
		out["payload"] = payload
		return []DomainEvent{{Name: events.WebhookReceived, Payload: out}}
	}

	out["stripe"] = payload
	name := events.StripeEvent
	switch t, _ := payload["type"].(string); t {
	case stripeInvoicePaymentSucceeded:
		name = events.StripeInvoicePaid
	case stripeSubscriptionUpdated:
		name = events.StripeSubscriptionUpdated
	}
	return []DomainEvent{{Name: name, Payload: out}}
}
