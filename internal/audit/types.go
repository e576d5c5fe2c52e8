package audit

import (
	"errors"
	"time"
)

// Store result statuses.
const (
	StatusStored        = "stored"
	StatusFailedToStore = "failed_to_store"
)

// Well known audit sources and actions.
const (
	SourceWebhook = "webhook"
	SourceEvents  = "events"

	MethodEvent = "EVENT"

	ActionDeadLetter = "event_DLQ"
)

// DeadLetterPathPrefix prefixes the original path recorded for dead letters.
const DeadLetterPathPrefix = "/events/DLQ/"

// ErrNotFound is returned when a row does not exist in the canonical store.
var ErrNotFound = errors.New("audit: not found")

// AuditEntry is an append-only audit record.
type AuditEntry struct {
	ID           int64          `json:"id"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	Path         string         `json:"path"`
	Method       string         `json:"method"`
	Source       string         `json:"source"`
	Action       string         `json:"action"`
	StatusCode   *int           `json:"status_code,omitempty"`
	TenantSchema string         `json:"tenant_schema,omitempty"`
	TenantID     *int64         `json:"tenant_id,omitempty"`
	IP           string         `json:"ip_address,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// DeadLetterEntry is a terminal processing failure.
type DeadLetterEntry struct {
	ID           int64          `json:"id"`
	EventName    string         `json:"event_name"`
	Payload      map[string]any `json:"payload"`
	Reason       string         `json:"reason"`
	TenantSchema string         `json:"tenant_schema,omitempty"`
	TenantID     *int64         `json:"tenant_id,omitempty"`
	Path         string         `json:"path"`
	CreatedAt    time.Time      `json:"created_at"`
	RequeuedAt   *time.Time     `json:"requeued_at,omitempty"`
}

// Position is a keyset cursor over audit entries, ordered by created_at then id.
type Position struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

// StoreResult reports the outcome of a canonical write. Writes never panic; callers
// decide whether a failed_to_store result is fatal for them.
type StoreResult struct {
	Status string `json:"status"`
	ID     int64  `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Stored reports whether the write landed.
func (r StoreResult) Stored() bool { return r.Status == StatusStored }

// Target selects the table a purge applies to.
type Target string

const (
	TargetAudit       Target = "audit"
	TargetDeadLetters Target = "dead_letters"
)

// RetentionPolicy is a global default plus per tenant schema overrides, in days.
// Overrides take precedence over the default.
type RetentionPolicy struct {
	DefaultDays int
	TenantDays  map[string]int
}

// Merge layers stored policies over p: a stored global policy replaces the default and
// stored tenant policies replace configured ones. Stored values must be positive; anything
// else is ignored, the same for the global and per tenant rows. Configured values are
// kept as they are.
func (p RetentionPolicy) Merge(global *int, tenants map[string]int) RetentionPolicy {
	out := RetentionPolicy{DefaultDays: p.DefaultDays, TenantDays: map[string]int{}}
	for schema, days := range p.TenantDays {
		out.TenantDays[schema] = days
	}
	if global != nil && *global > 0 {
		out.DefaultDays = *global
	}
	for schema, days := range tenants {
		if days > 0 {
			out.TenantDays[schema] = days
		}
	}
	return out
}

// PurgeResult counts deleted rows.
type PurgeResult struct {
	Target   Target         `json:"target"`
	ByTenant map[string]int `json:"by_tenant"`
	Default  int            `json:"default"`
}

// Total is the number of rows deleted across all tenants.
func (r PurgeResult) Total() int {
	total := r.Default
	for _, n := range r.ByTenant {
		total += n
	}
	return total
}

// DeadLetterFilter narrows ListDeadLetters.
type DeadLetterFilter struct {
	TenantSchema string
	EventName    string
	Limit        int
}

// DeadLetterSummary aggregates dead letters for dashboards.
type DeadLetterSummary struct {
	Total    int            `json:"total"`
	ByEvent  map[string]int `json:"by_event"`
	ByTenant map[string]int `json:"by_tenant"`
}
