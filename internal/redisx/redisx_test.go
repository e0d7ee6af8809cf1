package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, Ping(context.Background(), rdb))
	return mr, rdb
}

func TestDedupFirstOnlyOnce(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	d := NewDedup(rdb, "inventory")

	first, err := d.First(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.First(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, first)

	seen, err := d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("dedup:inventory:ev-1"))

	require.NoError(t, d.Forget(ctx, "ev-1"))
	first, err = d.First(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestDedupMarksExpire(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	d := NewDedup(rdb, "inventory")

	_, err := d.First(ctx, "ev-2")
	require.NoError(t, err)
	mr.FastForward(TTLDedup + time.Second)

	seen, err := d.Seen(ctx, "ev-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestAvailabilityCache(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewAvailabilityCache(rdb, time.Minute, zaptest.NewLogger(t))

	blueS := inventory.Key("S", "Blue")
	p, err := inventory.NewProduct("P", []inventory.StockRecord{
		{Key: blueS, Stock: 10, Reserved: 3},
		{Key: inventory.Key("M", "Red"), Stock: 2},
	})
	require.NoError(t, err)

	_, ok, err := c.Lookup(ctx, "P", blueS)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, p))
	n, ok, err := c.Lookup(ctx, "P", inventory.Key("s", "BLUE"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	total, err := mr.Get("avail:P")
	require.NoError(t, err)
	assert.Equal(t, "9", total)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Lookup(ctx, "P", blueS)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvailabilityCacheSkipsStaleWrites(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewAvailabilityCache(rdb, time.Minute, zaptest.NewLogger(t))
	blueS := inventory.Key("S", "Blue")

	at := func(version int64, reserved int) *inventory.Product {
		p, err := inventory.NewProduct("P", []inventory.StockRecord{{Key: blueS, Stock: 10, Reserved: reserved}})
		require.NoError(t, err)
		p.Version = version
		return p
	}

	// observers of two commits finish in reverse order
	require.NoError(t, c.Store(ctx, at(3, 4)))
	require.NoError(t, c.Store(ctx, at(2, 1)))

	n, ok, err := c.Lookup(ctx, "P", blueS)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, n)
	total, err := mr.Get("avail:P")
	require.NoError(t, err)
	assert.Equal(t, "6", total)
	ver, err := mr.Get("availver:P")
	require.NoError(t, err)
	assert.Equal(t, "3", ver)

	require.NoError(t, c.Store(ctx, at(4, 0)))
	n, _, err = c.Lookup(ctx, "P", blueS)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// an expired version lets any write through again
	mr.FastForward(2 * time.Minute)
	require.NoError(t, c.Store(ctx, at(1, 9)))
	n, _, err = c.Lookup(ctx, "P", blueS)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAvailabilityCacheFollowsCommits(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	log := zaptest.NewLogger(t)
	c := NewAvailabilityCache(rdb, 0, log)

	e := inventory.NewEngine(inventory.NewMemoryStore(), log, inventory.WithObservers(c))
	p, err := inventory.NewSimpleProduct("S", 5)
	require.NoError(t, err)
	require.NoError(t, e.CreateProduct(ctx, p))

	n, ok, err := c.Lookup(ctx, "S", inventory.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, n)

	_, err = e.Reserve(ctx, "S", inventory.DefaultKey, 2, "cart")
	require.NoError(t, err)
	n, _, err = c.Lookup(ctx, "S", inventory.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAvailabilityCacheSurvivesRedisOutage(t *testing.T) {
	ctx := context.Background()
	rdb := New("127.0.0.1:1")
	t.Cleanup(func() { _ = rdb.Close() })
	log := zaptest.NewLogger(t)
	c := NewAvailabilityCache(rdb, 0, log)
	e := inventory.NewEngine(inventory.NewMemoryStore(), log, inventory.WithObservers(c))
	p, err := inventory.NewSimpleProduct("S", 5)
	require.NoError(t, err)

	require.NoError(t, e.CreateProduct(ctx, p))
	_, err = e.Reserve(ctx, "S", inventory.DefaultKey, 1, "cart")
	assert.NoError(t, err)
}
