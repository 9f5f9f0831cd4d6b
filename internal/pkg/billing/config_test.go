package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"GIFT_TOKEN_TTL_DAYS", "BILLING_RESUME_LEAD_MINUTES", "SWEEP_CONCURRENCY"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()

	assert.Equal(t, time.Duration(0), cfg.GiftTokenTTL, "gifts never expire unless configured")
	assert.Equal(t, time.Hour, cfg.ResumeLead)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.Equal(t, 3, cfg.MaxWriteAttempts)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GIFT_TOKEN_TTL_DAYS", "90")
	t.Setenv("BILLING_RESUME_LEAD_MINUTES", "30")
	t.Setenv("SWEEP_EXPIRATION_INTERVAL_MINUTES", "5")
	t.Setenv("SWEEP_CONCURRENCY", "nope")

	cfg := LoadConfig()
	assert.Equal(t, 90*24*time.Hour, cfg.GiftTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.ResumeLead)
	assert.Equal(t, 5*time.Minute, cfg.ExpirationSweepInterval)
	assert.Equal(t, 4, cfg.SweepConcurrency)
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{GiftTokenTTL: -time.Hour, SweepBatchSize: -1}.normalized()
	assert.Equal(t, time.Duration(0), cfg.GiftTokenTTL)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.Equal(t, time.Minute, cfg.WebhookLockTTL)
}
