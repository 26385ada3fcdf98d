package redis

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
	rdb "tecnoico/internal/stores/redis"
)

type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// Cluster dedupe over Redis SETNX + TTL.
// prefix example "tecnoico:dedupe:"
func NewRedisDeduper(log logger.Logger, cfg *config.DedupeConfig, rdb *rdb.Client) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dedupe:"
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (d *RedisDedupe) Seen(ctx context.Context, id string) (bool, error) {
	key := d.prefix + id
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.log.Errorf("Redis SetNX error=%v", err)
		return false, fmt.Errorf("redis SetNX error=%v", err)
	}

	// ok=true -> key was absent, this hash is new
	return !ok, nil
}
