package redis

import (
	"context"
	"encoding/json"
	"time"

	"ms-coupons/internal/models"

	"github.com/go-redis/redis/v8"
)

const definitionKeyPrefix = "coupon_def:"

// DefinitionCache is a read-through JSON cache of coupon definitions.
type DefinitionCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewDefinitionCache(client *redis.Client, ttl time.Duration) *DefinitionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DefinitionCache{Client: client, TTL: ttl}
}

// Get returns nil, nil on a miss.
func (c *DefinitionCache) Get(ctx context.Context, id string) (*models.CouponDefinition, error) {
	data, err := c.Client.Get(ctx, definitionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var def models.CouponDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		// Drop entries we can no longer decode.
		c.Client.Del(ctx, definitionKeyPrefix+id)
		return nil, nil
	}
	return &def, nil
}

func (c *DefinitionCache) Set(ctx context.Context, def *models.CouponDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, definitionKeyPrefix+def.ID, data, c.TTL).Err()
}
