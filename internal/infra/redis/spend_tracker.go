// Package redis keeps per-day transfer totals in Redis so every instance
// sees the same daily spend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

var tracer = otel.Tracer("redis")

// Counters live a little longer than a day so late reads around midnight
// still see the total.
const spendTTL = 36 * time.Hour

var addSpendScript = redis.NewScript(`
local total = redis.call("INCRBY", KEYS[1], ARGV[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return total
`)

// SpendTracker implements port.SpendTracker on Redis counters.
type SpendTracker struct {
	client redis.UniversalClient
	prefix string
}

// NewSpendTracker creates a tracker. An empty prefix defaults to
// "guardian:spend".
func NewSpendTracker(client redis.UniversalClient, prefix string) *SpendTracker {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "guardian:spend"
	}
	return &SpendTracker{client: client, prefix: p}
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func (t *SpendTracker) key(accountHolderID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, accountHolderID, day.Format("2006-01-02"))
}

func (t *SpendTracker) DailySpend(ctx context.Context, accountHolderID string, day time.Time) (domain.Money, error) {
	ctx, span := tracer.Start(ctx, "Redis.DailySpend")
	defer span.End()

	v, err := t.client.Get(ctx, t.key(accountHolderID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return domain.Money(v), nil
}

// AddSpend adds amount to the day's counter and returns the new total.
func (t *SpendTracker) AddSpend(ctx context.Context, accountHolderID string, day time.Time, amount domain.Money) (domain.Money, error) {
	ctx, span := tracer.Start(ctx, "Redis.AddSpend")
	defer span.End()

	raw, err := addSpendScript.Run(ctx, t.client, []string{t.key(accountHolderID, day)}, int64(amount), spendTTL.Milliseconds()).Result()
	if err != nil {
		return 0, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	total, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected redis spend response type: %T", raw)
	}
	return domain.Money(total), nil
}
