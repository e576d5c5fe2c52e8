package idempotency

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is how long a delivery stays marked as seen.
const DefaultTTL = 24 * time.Hour

// Key builds the idempotency key for a provider delivery.
func Key(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:event:%s", provider, eventID)
}

// Marker is an atomic set-if-absent store with expiry.
type Marker interface {
	// Mark stores key for ttl if it is absent. It reports true when this call created it.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release removes key so a later delivery is treated as new.
	Release(ctx context.Context, key string) error
	Name() string
}

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
