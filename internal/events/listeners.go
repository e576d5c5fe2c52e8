package events

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// Domain event names.
const (
	TenantCreated             = "TenantCreated"
	UserCreated               = "UserCreated"
	PlanUpgraded              = "PlanUpgraded"
	StripeInvoicePaid         = "StripeInvoicePaid"
	StripeSubscriptionUpdated = "StripeSubscriptionUpdated"
	StripeEvent               = "StripeEvent"
	WebhookReceived           = "WebhookReceived"
)

// AuditWriter appends to the canonical audit log.
type AuditWriter interface {
	AppendAudit(ctx context.Context, e audit.AuditEntry) audit.StoreResult
}

// DefaultHandlers returns the built-in listeners. Each records an event_<Name> audit
// entry in the canonical store; a failed write is retried.
func DefaultHandlers(w AuditWriter) map[string]Handler {
	stripe := func(p map[string]any) map[string]any {
		return map[string]any{"stripe": p["stripe"]}
	}
	return map[string]Handler{
		TenantCreated:             auditListener(w, TenantCreated, nil),
		UserCreated:               auditListener(w, UserCreated, nil),
		PlanUpgraded:              auditListener(w, PlanUpgraded, nil),
		StripeInvoicePaid:         auditListener(w, StripeInvoicePaid, stripe),
		StripeSubscriptionUpdated: auditListener(w, StripeSubscriptionUpdated, stripe),
		StripeEvent:               auditListener(w, StripeEvent, stripe),
		WebhookReceived: auditListener(w, WebhookReceived, func(p map[string]any) map[string]any {
			return map[string]any{"provider": p["provider"], "payload": p["payload"]}
		}),
	}
}

func auditListener(w AuditWriter, name string, shape func(map[string]any) map[string]any) Handler {
	return func(ctx context.Context, payload map[string]any) Result {
		h := tenant.FromPayload(payload)
		status := 200
		entry := audit.AuditEntry{
			Path:         "/events/" + name,
			Method:       audit.MethodEvent,
			Source:       audit.SourceEvents,
			Action:       "event_" + name,
			StatusCode:   &status,
			TenantSchema: h.Schema,
			TenantID:     h.ID,
		}
		if shape != nil {
			entry.Payload = shape(payload)
		}
		if res := w.AppendAudit(ctx, entry); !res.Stored() {
			return Retryable(fmt.Sprintf("audit %s: %v", name, res.Err))
		}
		return Success()
	}
}
