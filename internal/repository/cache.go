package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

const (
	userOrdersPrefix    = "storefront:user_orders:"
	userOrdersGenPrefix = "storefront:user_orders_gen:"
	defaultCacheTTL     = 5 * time.Minute
	minGenerationTTL    = 24 * time.Hour
)

// RedisOrderCache caches each user's order list in Redis.
type RedisOrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisOrderCache connects to the configured Redis instance.
func NewRedisOrderCache(cfg config.RedisConfig) *RedisOrderCache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisOrderCacheWithClient(client, cfg.TTL)
}

// NewRedisOrderCacheWithClient uses an existing client.
func NewRedisOrderCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisOrderCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisOrderCache{
		client: client,
		ttl:    ttl,
		logger: logging.NewLogger("order-cache"),
	}
}

func listKey(userID string, generation int64) string {
	return userOrdersPrefix + userID + ":" + strconv.FormatInt(generation, 10)
}

func generationKey(userID string) string {
	return userOrdersGenPrefix + userID
}

// generation reads the user's list generation. A missing counter is 0.
func (c *RedisOrderCache) generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// GetByUserID returns the cached list for the current generation, or a nil
// list without error on a miss.
func (c *RedisOrderCache) GetByUserID(ctx context.Context, userID string) ([]*models.Order, int64, error) {
	gen, err := c.generation(ctx, userID)
	if err != nil {
		c.logger.Error("Cache generation error", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, 0, err
	}

	data, err := c.client.Get(ctx, listKey(userID, gen)).Bytes()
	if err == redis.Nil {
		c.logger.Debug("Cache miss", logging.Fields{"user_id": userID, "generation": gen})
		return nil, gen, nil
	}
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, 0, err
	}

	var orders []*models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, 0, err
	}

	c.logger.Debug("Cache hit", logging.Fields{"user_id": userID, "count": len(orders)})
	return orders, gen, nil
}

// SetByUserID caches orders under generation. Lists written for a
// superseded generation are never read and simply expire.
func (c *RedisOrderCache) SetByUserID(ctx context.Context, userID string, generation int64, orders []*models.Order) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listKey(userID, generation), data, c.ttl).Err()
}

// InvalidateByUserID bumps the user's generation so every list cached or
// being cached for the previous one is dropped.
func (c *RedisOrderCache) InvalidateByUserID(ctx context.Context, userID string) error {
	genTTL := minGenerationTTL
	if 2*c.ttl > genTTL {
		genTTL = 2 * c.ttl
	}

	key := generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, genTTL)
		return nil
	})
	return err
}

// Ping checks Redis connectivity.
func (c *RedisOrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *RedisOrderCache) Close() error {
	return c.client.Close()
}
