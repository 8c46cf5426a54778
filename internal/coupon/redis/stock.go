package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const stockKeyPrefix = "coupon_stock:"

// reserveScript seeds the counter from the store's consumption figure when the
// key is missing, then takes one unit if the cap allows it. Each reservation
// pushes the expiry out again, so a counter only lapses after a quiet TTL and is
// never re-seeded while claims holding units are still in flight.
// KEYS[1] counter, ARGV[1] seed, ARGV[2] cap, ARGV[3] ttl in ms.
var reserveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	current = ARGV[1]
end
if tonumber(current) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// releaseScript gives a unit back without resurrecting an expired counter.
var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) > 0 then
	redis.call('DECR', KEYS[1])
end
return 1
`)

// StockGuard counts campaign consumption in Redis so concurrent claims across
// replicas cannot overshoot max_total_redemptions.
type StockGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewStockGuard(client *redis.Client, ttl time.Duration) *StockGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StockGuard{Client: client, TTL: ttl}
}

func stockKey(definitionID string) string {
	return stockKeyPrefix + definitionID
}

// Reserve takes one unit of stock. consumed seeds the counter only when it does not exist yet.
func (g *StockGuard) Reserve(ctx context.Context, definitionID string, limit, consumed int) (bool, error) {
	res, err := reserveScript.Run(ctx, g.Client,
		[]string{stockKey(definitionID)},
		consumed, limit, g.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release returns a unit taken by Reserve for a claim that did not complete.
func (g *StockGuard) Release(ctx context.Context, definitionID string) error {
	return releaseScript.Run(ctx, g.Client, []string{stockKey(definitionID)}).Err()
}
