// Package tenant carries the opaque tenant handle supplied by the upstream resolver.
// Nothing in this module resolves tenants; it only forwards what it is given.
package tenant

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	SchemaHeader = "X-Tenant-Schema"
	IDHeader     = "X-Tenant-Id"

	// PayloadSchemaKey and PayloadIDKey are the payload fields event producers use to
	// carry the tenant handle through the bus.
	PayloadSchemaKey = "tenant_schema"
	PayloadIDKey     = "tenant_id"

	ginKey = "tenant.handle"
)

// Handle is the (schema, id) pair of the tenant active for a request. The zero value
// means no tenant.
type Handle struct {
	Schema string
	ID     *int64
}

// IsZero reports whether no tenant is attached.
func (h Handle) IsZero() bool {
	return h.Schema == "" && h.ID == nil
}

// Resolver supplies the tenant handle for an inbound request.
type Resolver interface {
	Resolve(c *gin.Context) Handle
}

// HeaderResolver reads the handle from headers set by the gateway in front of the service.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(c *gin.Context) Handle {
	h := Handle{Schema: strings.TrimSpace(c.GetHeader(SchemaHeader))}
	if raw := strings.TrimSpace(c.GetHeader(IDHeader)); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			h.ID = &id
		}
	}
	return h
}

// Middleware stores the resolved handle on the gin context.
func Middleware(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ginKey, r.Resolve(c))
		c.Next()
	}
}

// FromGin returns the handle stored by Middleware, or the zero handle.
func FromGin(c *gin.Context) Handle {
	if v, ok := c.Get(ginKey); ok {
		if h, ok := v.(Handle); ok {
			return h
		}
	}
	return Handle{}
}

type ctxKey struct{}

// WithContext attaches h to ctx.
func WithContext(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// FromContext returns the handle attached to ctx, or the zero handle.
func FromContext(ctx context.Context) Handle {
	h, _ := ctx.Value(ctxKey{}).(Handle)
	return h
}

// FromPayload extracts the handle carried in an event payload.
func FromPayload(payload map[string]any) Handle {
	var h Handle
	if payload == nil {
		return h
	}
	if s, ok := payload[PayloadSchemaKey].(string); ok {
		h.Schema = s
	}
	h.ID = coerceID(payload[PayloadIDKey])
	return h
}

// Apply writes the handle into payload. Absent fields are written as nil so consumers
// always see both keys.
func (h Handle) Apply(payload map[string]any) {
	if h.Schema != "" {
		payload[PayloadSchemaKey] = h.Schema
	} else {
		payload[PayloadSchemaKey] = nil
	}
	if h.ID != nil {
		payload[PayloadIDKey] = *h.ID
	} else {
		payload[PayloadIDKey] = nil
	}
}

func coerceID(v any) *int64 {
	var id int64
	switch n := v.(type) {
	case int:
		id = int64(n)
	case int32:
		id = int64(n)
	case int64:
		id = n
	case float64:
		if n != math.Trunc(n) {
			return nil
		}
		id = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return nil
		}
		id = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil
		}
		id = parsed
	default:
		return nil
	}
	return &id
}
