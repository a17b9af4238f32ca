package counter

import (
	"context"
	"strings"

	"github.com/studymate/checkout/internal/pkg/cache"
)

const (
	checkoutsCreatedKey   = "checkout:counters:created"
	checkoutsConfirmedKey = "checkout:counters:confirmed"
	checkoutsExpiredKey   = "checkout:counters:expired"
	webhooksReceivedKey   = "webhook:counters:received"
)

// AddCheckoutCreated increments the created counter for a plan in Redis
func AddCheckoutCreated(planCode string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, checkoutsCreatedKey, planCode, 1).Err()
}

// AddCheckoutConfirmed increments the confirmed counter for a plan in Redis
func AddCheckoutConfirmed(planCode string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, checkoutsConfirmedKey, planCode, 1).Err()
}

// AddCheckoutsExpired adds to the expired counter, used by the sweep worker
func AddCheckoutsExpired(n int64) error {
	if n <= 0 {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, checkoutsExpiredKey, "total", n).Err()
}

// AddWebhookReceived increments the per-outcome webhook counter in Redis
func AddWebhookReceived(outcome string) error {
	ctx := context.Background()
	field := strings.ToLower(strings.TrimSpace(outcome))
	if field == "" {
		field = "unknown"
	}
	return cache.GetClient().HIncrBy(ctx, webhooksReceivedKey, field, 1).Err()
}

// Stats reads all counter hashes for the internal stats endpoint
func Stats() (map[string]map[string]string, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]string, 4)
	for name, key := range map[string]string{
		"checkouts_created":   checkoutsCreatedKey,
		"checkouts_confirmed": checkoutsConfirmedKey,
		"checkouts_expired":   checkoutsExpiredKey,
		"webhooks_received":   webhooksReceivedKey,
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}
