package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloudx-io/rentauction/core"
)

const (
	DefaultCacheTTL = time.Minute
	cacheKeyPrefix  = "rentauction:quote:"
)

// Source is any quote provider; both CoinGecko and Cached satisfy it.
type Source interface {
	Rate(ctx context.Context, fiat core.Currency) (core.Quote, error)
}

// Cached serves quotes from Redis and falls back to the origin on a miss.
// Redis being down degrades to uncached lookups.
type Cached struct {
	origin Source
	client *redis.Client
	ttl    time.Duration
}

func NewCached(origin Source, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{origin: origin, client: client, ttl: ttl}
}

func (c *Cached) Rate(ctx context.Context, fiat core.Currency) (core.Quote, error) {
	key := cacheKeyPrefix + string(fiat)

	quote, found, err := c.get(ctx, key)
	if err != nil {
		log.Printf("WARNING: Rate cache read for %s failed: %v", fiat, err)
	} else if found {
		return quote, nil
	}

	quote, err = c.origin.Rate(ctx, fiat)
	if err != nil {
		return core.Quote{}, err
	}

	if err := c.set(ctx, key, quote); err != nil {
		log.Printf("WARNING: Rate cache write for %s failed: %v", fiat, err)
	}
	return quote, nil
}

func (c *Cached) get(ctx context.Context, key string) (core.Quote, bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return core.Quote{}, false, nil
	}
	if err != nil {
		return core.Quote{}, false, err
	}

	var q core.Quote
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return core.Quote{}, false, fmt.Errorf("decode cached quote: %w", err)
	}
	return q, true, nil
}

func (c *Cached) set(ctx context.Context, key string, q core.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
