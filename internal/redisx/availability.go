package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

// AvailabilityCache keeps display availability in Redis. It is refreshed from
// every committed change and may lag the store by one write; reserve decides.
type AvailabilityCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *zap.Logger
}

func NewAvailabilityCache(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = TTLAvailability
	}
	return &AvailabilityCache{rdb: rdb, ttl: ttl, log: log}
}

// Committed implements inventory.Observer.
func (c *AvailabilityCache) Committed(ctx context.Context, ch *inventory.Change) {
	if err := c.Store(ctx, ch.Product); err != nil {
		c.log.Warn("availability cache refresh failed", zap.String("product_id", ch.Product.ID), zap.Error(err))
	}
}

// storeScript writes a product's availability keys unless a newer version is
// already cached. KEYS[1] is the version key, KEYS[2..] the availability keys
// with their values in ARGV[3..].
var storeScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) < cur then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
for i = 2, #KEYS do
	redis.call('SET', KEYS[i], ARGV[i + 1], 'PX', ARGV[2])
end
return 1
`)

// Store writes the availability of every stock line of p. Observers run
// outside the product lock, so a write older than the cached version is
// dropped.
func (c *AvailabilityCache) Store(ctx context.Context, p *inventory.Product) error {
	keys := []string{fmt.Sprintf(KeyAvailabilityVersion, p.ID), fmt.Sprintf(KeyProductAvailability, p.ID)}
	args := []any{p.Version, c.ttl.Milliseconds(), p.Available()}
	if !p.HasVariants() {
		keys = append(keys, variantKey(p.ID, inventory.DefaultKey))
		args = append(args, p.Available())
	}
	for _, r := range p.Variants() {
		keys = append(keys, variantKey(p.ID, r.Key))
		args = append(args, r.Available())
	}
	written, err := storeScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		c.log.Debug("stale availability write skipped",
			zap.String("product_id", p.ID), zap.Int64("version", p.Version))
	}
	return nil
}

// Lookup returns the cached availability of a variant; ok is false on a miss.
func (c *AvailabilityCache) Lookup(ctx context.Context, productID string, key inventory.VariantKey) (n int, ok bool, err error) {
	n, err = c.rdb.Get(ctx, variantKey(productID, key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func variantKey(productID string, k inventory.VariantKey) string {
	return fmt.Sprintf(KeyAvailability, productID, k.Normalized())
}
