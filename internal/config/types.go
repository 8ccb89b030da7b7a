package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Mode         string             `yaml:"mode"` // polling | webhook
	Timezone     string             `yaml:"timezone"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Wompi        WompiConfig        `yaml:"wompi"`
	Plans        []PlanConfig       `yaml:"plans"`
	Discounts    []DiscountCode     `yaml:"discounts"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Storage      StorageConfig      `yaml:"storage"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Breaker      BreakerConfig      `yaml:"circuit_breaker"`

	// Location is resolved from Timezone during finalize.
	Location *time.Location `yaml:"-"`
}

// TelegramConfig holds bot credentials and the restricted channel.
type TelegramConfig struct {
	Token      string `yaml:"token"`
	ChannelID  int64  `yaml:"channel_id"`
	WebhookURL string `yaml:"webhook_url"` // required when mode = webhook
}

// WompiConfig holds the payment gateway credentials and endpoints.
type WompiConfig struct {
	ClientID           string   `yaml:"client_id"`
	ClientSecret       string   `yaml:"client_secret"`
	Audience           string   `yaml:"audience"`
	IdentityURL        string   `yaml:"identity_url"` // OAuth token endpoint
	APIBase            string   `yaml:"api_base"`
	NotificationEmails string   `yaml:"notification_emails"`
	Timeout            Duration `yaml:"timeout"`
}

// PlanConfig defines one purchasable subscription plan.
// AmountUSD is parsed during finalize; disabled plans are never offered.
type PlanConfig struct {
	Kind             string `yaml:"kind"`
	Name             string `yaml:"name"`
	AmountUSD        string `yaml:"amount_usd"`
	Days             int    `yaml:"days"`
	Enabled          bool   `yaml:"enabled"`
	AcceptsDiscounts bool   `yaml:"accepts_discounts"`

	Amount decimal.Decimal `yaml:"-"`
}

// DiscountCode is one operator-curated referral/discount entry.
// Disabling is a data toggle, never a config-file comment.
type DiscountCode struct {
	Code     string  `yaml:"code"`
	Fraction float64 `yaml:"fraction"` // 0 < fraction < 1
	Owner    string  `yaml:"owner"`    // attributed creator/ally tag
	Enabled  bool    `yaml:"enabled"`
}

// RenewalPolicy selects what happens when a user pays while already subscribed.
type RenewalPolicy string

const (
	RenewalStack  RenewalPolicy = "stack"  // arm an independent expiry pair per purchase
	RenewalExtend RenewalPolicy = "extend" // re-arm a single pair at the later expiry
	RenewalReject RenewalPolicy = "reject" // refuse a new purchase while active
)

// SubscriptionConfig tunes the access lifecycle side effects.
type SubscriptionConfig struct {
	RenewalPolicy RenewalPolicy `yaml:"renewal_policy"`
	ReminderLead  Duration      `yaml:"reminder_lead"` // how long before expiry the warning fires
	InviteTTL     Duration      `yaml:"invite_ttl"`    // validity window of the single-use invite link
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Backend         string `yaml:"backend"` // csv | postgres | mongodb
	DataDir         string `yaml:"data_dir"`
	PostgresURL     string `yaml:"postgres_url"`
	MongoDBURL      string `yaml:"mongodb_url"`
	MongoDBDatabase string `yaml:"mongodb_database"`
}

// ServerConfig holds the HTTP adapter configuration (webhook mode, health, metrics).
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimit          int      `yaml:"rate_limit"` // requests per window per IP, 0 disables
	RateLimitWindow    Duration `yaml:"rate_limit_window"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // json | console
	Environment string `yaml:"environment"`
}

// BreakerConfig configures the gateway circuit breakers.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// Plan returns the plan with the given kind, enabled or not.
func (c *Config) Plan(kind string) (PlanConfig, bool) {
	for _, p := range c.Plans {
		if p.Kind == kind {
			return p, true
		}
	}
	return PlanConfig{}, false
}

// EnabledPlans returns the plans offered to users, in config order.
func (c *Config) EnabledPlans() []PlanConfig {
	out := make([]PlanConfig, 0, len(c.Plans))
	for _, p := range c.Plans {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Discount looks up an active discount code, case-insensitively.
// Disabled entries are invisible to the lookup.
func (c *Config) Discount(code string) (DiscountCode, bool) {
	for _, d := range c.Discounts {
		if d.Enabled && strings.EqualFold(d.Code, code) {
			return d, true
		}
	}
	return DiscountCode{}, false
}
