package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// DB pool
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Shopify
	ShopifyWebhookSecret string `envconfig:"SHOPIFY_WEBHOOK_SECRET" required:"true"`

	// Twilio WhatsApp. Credentials may be absent in development; the
	// dispatcher then records sends with a synthesized mock result.
	TwilioAccountSID     string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppNumber string  `envconfig:"TWILIO_WHATSAPP_NUMBER"`
	TwilioBaseURL        string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	TwilioRPS            float64 `envconfig:"TWILIO_RPS" default:"5"`
	TwilioBurst          int     `envconfig:"TWILIO_BURST" default:"10"`
	PublicWebhookURL     string  `envconfig:"PUBLIC_WEBHOOK_URL"` // must match EXACT URL configured in Twilio

	// Notification defaults
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en"`

	// Scheduler cadence
	CartPollInterval     string `envconfig:"CART_POLL_INTERVAL" default:"30m"`
	ReviewPollInterval   string `envconfig:"REVIEW_POLL_INTERVAL" default:"24h"`
	CampaignPollInterval string `envconfig:"CAMPAIGN_POLL_INTERVAL" default:"5m"`
}

// Load reads a local .env if present, then the process environment.
func Load() ServerConfig {
	_ = godotenv.Load()
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
