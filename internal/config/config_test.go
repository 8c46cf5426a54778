package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8086", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Claim.CodeInsertAttempts)
	assert.Equal(t, 8*time.Second, cfg.Claim.Timeout)
	assert.Equal(t, "coupons.claimed", cfg.Kafka.Topics.CouponClaimed)
	assert.Equal(t, "coupons.redeemed", cfg.Kafka.Topics.CouponRedeemed)
	assert.Equal(t, time.UTC, cfg.Claim.Location())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("CODE_INSERT_ATTEMPTS", "5")
	t.Setenv("STOCK_COUNTER_TTL", "90s")
	t.Setenv("CLAIM_TIMEZONE", "Europe/Lisbon")
	t.Setenv("QR_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 5, cfg.Claim.CodeInsertAttempts)
	assert.Equal(t, 90*time.Second, cfg.Redis.StockCounterTTL)
	assert.Equal(t, "Europe/Lisbon", cfg.Claim.Location().String())
	assert.Equal(t, 256, cfg.QR.Size, "invalid values fall back to the default")
}

func TestClaimConfig_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, ClaimConfig{Timezone: "Mars/Olympus"}.Location())
}
