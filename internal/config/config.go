package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Mode:     "polling",
		Timezone: "America/El_Salvador",
		Wompi: WompiConfig{
			Audience:           "wompi_api",
			NotificationEmails: "notificaciones@dummy.local",
			Timeout:            Duration{Duration: 30 * time.Second},
		},
		Plans: []PlanConfig{
			{Kind: "mensual", Name: "Suscripción completa (30 días)", AmountUSD: "30.00", Days: 30, Enabled: true, AcceptsDiscounts: true},
			{Kind: "promo", Name: "Promoción Champions League (2 días)", AmountUSD: "10.00", Days: 2, Enabled: true},
		},
		Subscription: SubscriptionConfig{
			RenewalPolicy: RenewalExtend,
			ReminderLead:  Duration{Duration: 12 * time.Hour},
			InviteTTL:     Duration{Duration: time.Hour},
		},
		Storage: StorageConfig{
			Backend: "csv",
			DataDir: "./data",
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration{Duration: 15 * time.Second},
			WriteTimeout:    Duration{Duration: 15 * time.Second},
			IdleTimeout:     Duration{Duration: 60 * time.Second},
			RateLimit:       100,
			RateLimitWindow: Duration{Duration: time.Minute},
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{Duration: 60 * time.Second},
			Timeout:             Duration{Duration: 30 * time.Second},
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// finalize applies defaults and validates the configuration.
// A missing required setting is fatal at startup, never recoverable at runtime.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Mode != "polling" && c.Mode != "webhook" {
		return fmt.Errorf("config: mode must be polling or webhook, got %q", c.Mode)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if c.Telegram.Token == "" {
		return fmt.Errorf("config: telegram.token is required")
	}
	if c.Telegram.ChannelID == 0 {
		return fmt.Errorf("config: telegram.channel_id is required")
	}
	if c.Mode == "webhook" && c.Telegram.WebhookURL == "" {
		return fmt.Errorf("config: telegram.webhook_url is required in webhook mode")
	}

	if c.Wompi.ClientID == "" || c.Wompi.ClientSecret == "" {
		return fmt.Errorf("config: wompi.client_id and wompi.client_secret are required")
	}
	if c.Wompi.IdentityURL == "" {
		return fmt.Errorf("config: wompi.identity_url is required")
	}
	if c.Wompi.APIBase == "" {
		return fmt.Errorf("config: wompi.api_base is required")
	}
	if c.Wompi.Timeout.Duration <= 0 {
		c.Wompi.Timeout = Duration{Duration: 30 * time.Second}
	}

	if len(c.Plans) == 0 {
		return fmt.Errorf("config: at least one plan is required")
	}
	seen := make(map[string]bool, len(c.Plans))
	for i := range c.Plans {
		p := &c.Plans[i]
		if p.Kind == "" {
			return fmt.Errorf("config: plans[%d].kind is required", i)
		}
		if seen[p.Kind] {
			return fmt.Errorf("config: duplicate plan kind %q", p.Kind)
		}
		seen[p.Kind] = true
		if p.Days <= 0 {
			return fmt.Errorf("config: plan %q must have positive days", p.Kind)
		}
		amount, err := decimal.NewFromString(p.AmountUSD)
		if err != nil || amount.Sign() <= 0 {
			return fmt.Errorf("config: plan %q has invalid amount_usd %q", p.Kind, p.AmountUSD)
		}
		p.Amount = amount
	}

	for i, d := range c.Discounts {
		if d.Code == "" {
			return fmt.Errorf("config: discounts[%d].code is required", i)
		}
		if d.Fraction <= 0 || d.Fraction >= 1 {
			return fmt.Errorf("config: discount %q fraction must be between 0 and 1 exclusive", d.Code)
		}
	}

	switch c.Subscription.RenewalPolicy {
	case RenewalStack, RenewalExtend, RenewalReject:
	case "":
		c.Subscription.RenewalPolicy = RenewalExtend
	default:
		return fmt.Errorf("config: subscription.renewal_policy must be stack, extend or reject, got %q", c.Subscription.RenewalPolicy)
	}
	if c.Subscription.ReminderLead.Duration <= 0 {
		c.Subscription.ReminderLead = Duration{Duration: 12 * time.Hour}
	}
	if c.Subscription.InviteTTL.Duration <= 0 {
		c.Subscription.InviteTTL = Duration{Duration: time.Hour}
	}

	switch c.Storage.Backend {
	case "csv", "":
		c.Storage.Backend = "csv"
		if c.Storage.DataDir == "" {
			c.Storage.DataDir = "./data"
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: storage.postgres_url is required for postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("config: storage.mongodb_url is required for mongodb backend")
		}
		if c.Storage.MongoDBDatabase == "" {
			c.Storage.MongoDBDatabase = "subsbot"
		}
	default:
		return fmt.Errorf("config: storage.backend must be csv, postgres or mongodb, got %q", c.Storage.Backend)
	}

	return nil
}
