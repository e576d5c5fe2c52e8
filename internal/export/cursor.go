package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

// Cursor remembers the position of the last exported audit entry.
type Cursor interface {
	Load(ctx context.Context) (audit.Position, bool, error)
	Save(ctx context.Context, at audit.Position) error
}

// RedisCursor stores the cursor under a single key that never expires, formatted as
// "<RFC3339Nano created_at> <id>".
type RedisCursor struct {
	client redis.Cmdable
	key    string
}

func NewRedisCursor(client redis.Cmdable, key string) *RedisCursor {
	return &RedisCursor{client: client, key: key}
}

func (c *RedisCursor) Load(ctx context.Context) (audit.Position, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return audit.Position{}, false, nil
	}
	if err != nil {
		return audit.Position{}, false, fmt.Errorf("load export cursor: %w", err)
	}
	pos, err := parsePosition(raw)
	if err != nil {
		// unreadable cursor behaves like a missing one
		return audit.Position{}, false, nil
	}
	return pos, true, nil
}

func (c *RedisCursor) Save(ctx context.Context, at audit.Position) error {
	if err := c.client.Set(ctx, c.key, formatPosition(at), 0).Err(); err != nil {
		return fmt.Errorf("save export cursor: %w", err)
	}
	return nil
}

func formatPosition(p audit.Position) string {
	return p.CreatedAt.UTC().Format(time.RFC3339Nano) + " " + strconv.FormatInt(p.ID, 10)
}

// parsePosition also accepts a bare timestamp; the id then defaults to 0.
func parsePosition(raw string) (audit.Position, error) {
	ts, id, hasID := strings.Cut(strings.TrimSpace(raw), " ")
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return audit.Position{}, err
	}
	pos := audit.Position{CreatedAt: at}
	if hasID {
		if pos.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
			return audit.Position{}, err
		}
	}
	return pos, nil
}
