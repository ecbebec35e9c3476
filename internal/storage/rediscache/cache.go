// Package rediscache caches the active discount rule snapshot in Redis.
package rediscache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
)

// DefaultKey is the Redis key holding the active rule snapshot.
const DefaultKey = "discounts:active"

var _ discount.Store = (*RuleCache)(nil)

// RuleCache decorates a discount.Store, serving ListActive from Redis.
// Coupon lookups always reach the store. Redis failures degrade to the store.
type RuleCache struct {
	next   discount.Store
	client *redis.Client
	ttl    time.Duration
	key    string
}

// New returns a RuleCache in front of next. A nil client or non-positive ttl
// disables caching.
func New(next discount.Store, client *redis.Client, ttl time.Duration) *RuleCache {
	return &RuleCache{next: next, client: client, ttl: ttl, key: DefaultKey}
}

func (c *RuleCache) enabled() bool {
	return c.client != nil && c.ttl > 0
}

// ListActive returns the cached snapshot, loading it from the store on a miss.
func (c *RuleCache) ListActive(ctx context.Context) ([]discount.Rule, error) {
	if !c.enabled() {
		return c.next.ListActive(ctx)
	}
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		rules, err := decodeRules(data)
		if err == nil {
			return rules, nil
		}
		lg.Warn("Dropping undecodable rule snapshot", zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Rule cache unavailable", zap.Error(err))
	}

	rules, err := c.next.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, c.key, encodeRules(rules), c.ttl).Err(); err != nil {
		lg.Warn("Storing rule snapshot", zap.Error(err))
	}
	return rules, nil
}

// FindByCode delegates to the store.
func (c *RuleCache) FindByCode(ctx context.Context, code string) (*discount.Rule, error) {
	return c.next.FindByCode(ctx, code)
}

// Redeem commits through the store and drops the snapshot, whose use counts
// and balances are now stale.
func (c *RuleCache) Redeem(ctx context.Context, orderID string, rs []discount.Redemption) error {
	if err := c.next.Redeem(ctx, orderID, rs); err != nil {
		return err
	}
	if err := c.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Invalidating rule snapshot", zap.Error(err))
	}
	return nil
}

// Invalidate removes the cached snapshot.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return errors.Wrap(err, "delete rule snapshot")
	}
	return nil
}
