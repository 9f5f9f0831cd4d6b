package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/env"
)

// Config holds the tunables of the entitlement engine.
type Config struct {
	// GiftTokenTTL is how long an issued gift stays redeemable. Zero means
	// gifts never expire.
	GiftTokenTTL time.Duration
	// ResumeLead is how far ahead of a credit lapse paused billing is resumed.
	ResumeLead time.Duration

	ResumeSweepInterval     time.Duration
	ExpirationSweepInterval time.Duration
	CustomerSweepInterval   time.Duration
	SweepBatchSize          int
	SweepConcurrency        int

	MaxWriteAttempts int
	WebhookLockTTL   time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		GiftTokenTTL:            0,
		ResumeLead:              time.Hour,
		ResumeSweepInterval:     15 * time.Minute,
		ExpirationSweepInterval: time.Hour,
		CustomerSweepInterval:   24 * time.Hour,
		SweepBatchSize:          500,
		SweepConcurrency:        4,
		MaxWriteAttempts:        3,
		WebhookLockTTL:          time.Minute,
	}
}

// LoadConfig reads the engine settings from the environment.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.GiftTokenTTL = time.Duration(env.GetEnvInt("GIFT_TOKEN_TTL_DAYS", 0)) * 24 * time.Hour
	cfg.ResumeLead = time.Duration(env.GetEnvInt("BILLING_RESUME_LEAD_MINUTES", 60)) * time.Minute
	cfg.ResumeSweepInterval = time.Duration(env.GetEnvInt("SWEEP_RESUME_INTERVAL_MINUTES", 15)) * time.Minute
	cfg.ExpirationSweepInterval = time.Duration(env.GetEnvInt("SWEEP_EXPIRATION_INTERVAL_MINUTES", 60)) * time.Minute
	cfg.CustomerSweepInterval = time.Duration(env.GetEnvInt("SWEEP_CUSTOMERS_INTERVAL_HOURS", 24)) * time.Hour
	cfg.SweepBatchSize = env.GetEnvInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.SweepConcurrency = env.GetEnvInt("SWEEP_CONCURRENCY", cfg.SweepConcurrency)
	cfg.StripeSecretKey = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	cfg.StripeWebhookSecret = strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	return cfg.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.GiftTokenTTL < 0 {
		c.GiftTokenTTL = 0
	}
	if c.ResumeLead < 0 {
		c.ResumeLead = 0
	}
	if c.ResumeSweepInterval <= 0 {
		c.ResumeSweepInterval = d.ResumeSweepInterval
	}
	if c.ExpirationSweepInterval <= 0 {
		c.ExpirationSweepInterval = d.ExpirationSweepInterval
	}
	if c.CustomerSweepInterval <= 0 {
		c.CustomerSweepInterval = d.CustomerSweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = d.SweepConcurrency
	}
	if c.MaxWriteAttempts <= 0 {
		c.MaxWriteAttempts = d.MaxWriteAttempts
	}
	if c.WebhookLockTTL <= 0 {
		c.WebhookLockTTL = d.WebhookLockTTL
	}
	return c
}
