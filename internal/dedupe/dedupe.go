// Package dedupe prevents double-sends when an upstream producer redelivers
// a notification event. Delivery is at-least-once end to end; dedupe narrows
// the window, it does not guarantee exactly-once.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
)

const defaultTTL = 24 * time.Hour

// Deduper marks (event, channel, target) triples as claimed in Redis using
// SET NX with a TTL. It fails open: if Redis is unreachable, delivery
// proceeds, because a rare duplicate beats a dropped notification.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Deduper. A zero ttl uses the default of 24h.
func New(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

// FirstDelivery reports whether this triple has not been dispatched before,
// claiming it atomically when it has not.
func (d *Deduper) FirstDelivery(ctx context.Context, eventID string, ch domain.Channel, targetRef string) bool {
	key := fmt.Sprintf("notifier:dedupe:%s:%s:%s", eventID, ch, targetRef)

	ok, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		ctxlog.FromContext(ctx).Warn("dedupe check failed, delivering anyway",
			"key", key, "error", err)
		return true
	}
	return ok
}
