package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup marks processed event ids per service.
type Dedup struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service, ttl: TTLDedup}
}

// First sets the mark and reports whether it was not set before.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(id), "1", d.ttl).Result()
}

func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, d.key(id)).Err()
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.service, id) }
