package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// defaultFillBlock is how long an invalidation keeps read-through fills out. It
// must exceed the time between a reader's database read and its cache write.
const defaultFillBlock = 5 * time.Second

// fillScript writes a listing only when no invalidation is pending for it.
var fillScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// ListingCache holds listing detail for read-through lookups. Delete leaves a
// short-lived marker so a reader that loaded the listing before a state
// change cannot write its stale copy back afterwards.
type ListingCache struct {
	client    *redis.Client
	logger    *logger.Logger
	fillBlock time.Duration
}

func NewListingCache(client *redis.Client, log *logger.Logger) *ListingCache {
	return &ListingCache{client: client, logger: log.Named("redis.listing"), fillBlock: defaultFillBlock}
}

func listingKey(id string) string {
	return "listing:" + id
}

func invalidationKey(id string) string {
	return "listing:" + id + ":invalidated"
}

func (c *ListingCache) Get(ctx context.Context, id string) (*domain.Listing, error) {
	data, err := c.client.Get(ctx, listingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get listing: %w", err)
	}

	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("unmarshal cached listing: %w", err)
	}
	return &listing, nil
}

// Set fills the cache unless the listing was invalidated within fillBlock.
// A skipped fill is not an error.
func (c *ListingCache) Set(ctx context.Context, listing *domain.Listing, ttl time.Duration) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	keys := []string{listingKey(listing.ID), invalidationKey(listing.ID)}
	written, err := fillScript.Run(ctx, c.client, keys, data, ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("Redis fill failed", zap.String("listing_id", listing.ID), zap.Error(err))
		return fmt.Errorf("redis set listing: %w", err)
	}
	if written == 0 {
		c.logger.Debug("Skipped cache fill for recently invalidated listing", zap.String("listing_id", listing.ID))
	}
	return nil
}

// Delete drops the cached copy and blocks fills for fillBlock.
func (c *ListingCache) Delete(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, listingKey(id))
		pipe.Set(ctx, invalidationKey(id), 1, c.fillBlock)
		return nil
	})
	if err != nil {
		c.logger.Warn("Redis invalidation failed", zap.String("listing_id", id), zap.Error(err))
		return fmt.Errorf("redis del listing: %w", err)
	}
	return nil
}
