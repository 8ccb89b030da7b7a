package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the SUBSBOT_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Mode, "SUBSBOT_MODE")
	setIfEnv(&c.Timezone, "SUBSBOT_TIMEZONE")

	// Telegram config
	setIfEnv(&c.Telegram.Token, "SUBSBOT_BOT_TOKEN")
	setInt64IfEnv(&c.Telegram.ChannelID, "SUBSBOT_CHANNEL_ID")
	setIfEnv(&c.Telegram.WebhookURL, "SUBSBOT_WEBHOOK_URL")

	// Wompi config
	setIfEnv(&c.Wompi.ClientID, "SUBSBOT_WOMPI_CLIENT_ID")
	setIfEnv(&c.Wompi.ClientSecret, "SUBSBOT_WOMPI_CLIENT_SECRET")
	setIfEnv(&c.Wompi.Audience, "SUBSBOT_WOMPI_AUDIENCE")
	setIfEnv(&c.Wompi.IdentityURL, "SUBSBOT_WOMPI_ID_URL")
	setIfEnv(&c.Wompi.APIBase, "SUBSBOT_WOMPI_API_BASE")
	setIfEnv(&c.Wompi.NotificationEmails, "SUBSBOT_EMAILS_NOTIFICACION")
	setDurationIfEnv(&c.Wompi.Timeout, "SUBSBOT_WOMPI_TIMEOUT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "SUBSBOT_STORAGE_BACKEND")
	setIfEnv(&c.Storage.DataDir, "SUBSBOT_STORAGE_DATA_DIR")
	setIfEnv(&c.Storage.PostgresURL, "SUBSBOT_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "SUBSBOT_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "SUBSBOT_STORAGE_MONGODB_DATABASE")

	// Server config
	setIfEnv(&c.Server.Address, "SUBSBOT_SERVER_ADDRESS")

	// Subscription config
	if v := os.Getenv("SUBSBOT_RENEWAL_POLICY"); v != "" {
		c.Subscription.RenewalPolicy = RenewalPolicy(v)
	}
	setDurationIfEnv(&c.Subscription.ReminderLead, "SUBSBOT_REMINDER_LEAD")
	setDurationIfEnv(&c.Subscription.InviteTTL, "SUBSBOT_INVITE_TTL")

	// Logging config
	setIfEnv(&c.Logging.Level, "SUBSBOT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "SUBSBOT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "SUBSBOT_ENVIRONMENT")
}

// setIfEnv sets target to the env var value when the variable is non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setInt64IfEnv parses an int64 env var, ignoring unparseable values.
func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

// setDurationIfEnv parses a Go-style duration env var, ignoring unparseable values.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: parsed}
		}
	}
}
