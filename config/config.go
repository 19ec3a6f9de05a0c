package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	Port         string
	Environment  string
	LoggingLevel string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Realtime topics
	TopicPrefix       string
	LegacyTopicSunset time.Time

	// Consent handshake
	HoldGrace          time.Duration
	HoldSweepInterval  time.Duration
	ReadyPromptTimeout time.Duration

	// Media layer
	MediaMode      string
	MediaIssuerURL string
	MediaIssuerKey string
	MediaHMACKey   string
	MediaSFUURL    string
	MediaAPIKey    string
	MediaAPISecret string
	MediaTokenTTL  time.Duration

	// Settlement
	SkipValue decimal.Decimal

	// SMS webhook
	SMSWebhookToken  string
	SMSRatePerMinute int

	// API protection
	APIRatePerMinute int

	// Navigation
	CreatorHomePath string
	FanQueuePath    string

	// Monitoring
	EnableMetrics bool
}

var defaults = map[string]any{
	"PORT":                 "8090",
	"ENVIRONMENT":          "development",
	"LOGGING_LEVEL":        "info",
	"REDIS_URL":            "localhost:6379",
	"PUBNUB_PUBLISH_KEY":   "",
	"PUBNUB_SUBSCRIBE_KEY": "",
	"PUBNUB_SECRET_KEY":    "",
	"PUBNUB_USER_ID":       "consult-queue",
	"TOPIC_PREFIX":         "creator-queue-",
	"LEGACY_TOPIC_SUNSET":  "",
	"HOLD_GRACE":           "5m",
	"HOLD_SWEEP_INTERVAL":  "30s",
	"READY_PROMPT_TIMEOUT": "60s",
	"MEDIA_MODE":           "http",
	"MEDIA_ISSUER_URL":     "",
	"MEDIA_ISSUER_KEY":     "",
	"MEDIA_HMAC_KEY":       "",
	"MEDIA_SFU_URL":        "",
	"MEDIA_API_KEY":        "",
	"MEDIA_API_SECRET":     "",
	"MEDIA_TOKEN_TTL":      "10m",
	"SKIP_VALUE":           "0.10",
	"SMS_WEBHOOK_TOKEN":    "",
	"SMS_RATE_PER_MINUTE":  20,
	"API_RATE_PER_MINUTE":  120,
	"CREATOR_HOME_PATH":    "/dashboard",
	"FAN_QUEUE_PATH":       "/join/%s",
	"ENABLE_METRICS":       true,
}

func LoadConfig() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("config file not loaded, using environment", "file", file, "error", err)
		}
	}

	return &Config{
		// Server
		Port:         v.GetString("PORT"),
		Environment:  v.GetString("ENVIRONMENT"),
		LoggingLevel: strings.ToLower(v.GetString("LOGGING_LEVEL")),

		// Redis
		RedisURL: v.GetString("REDIS_URL"),

		// PubNub
		PubNubPublishKey:   v.GetString("PUBNUB_PUBLISH_KEY"),
		PubNubSubscribeKey: v.GetString("PUBNUB_SUBSCRIBE_KEY"),
		PubNubSecretKey:    v.GetString("PUBNUB_SECRET_KEY"),
		PubNubUserID:       v.GetString("PUBNUB_USER_ID"),

		// Topics
		TopicPrefix:       v.GetString("TOPIC_PREFIX"),
		LegacyTopicSunset: getTime(v, "LEGACY_TOPIC_SUNSET"),

		// Handshake
		HoldGrace:          getDuration(v, "HOLD_GRACE"),
		HoldSweepInterval:  getDuration(v, "HOLD_SWEEP_INTERVAL"),
		ReadyPromptTimeout: getDuration(v, "READY_PROMPT_TIMEOUT"),

		// Media
		MediaMode:      strings.ToLower(v.GetString("MEDIA_MODE")),
		MediaIssuerURL: v.GetString("MEDIA_ISSUER_URL"),
		MediaIssuerKey: v.GetString("MEDIA_ISSUER_KEY"),
		MediaHMACKey:   v.GetString("MEDIA_HMAC_KEY"),
		MediaSFUURL:    v.GetString("MEDIA_SFU_URL"),
		MediaAPIKey:    v.GetString("MEDIA_API_KEY"),
		MediaAPISecret: v.GetString("MEDIA_API_SECRET"),
		MediaTokenTTL:  getDuration(v, "MEDIA_TOKEN_TTL"),

		// Settlement
		SkipValue: getDecimal(v, "SKIP_VALUE"),

		// SMS
		SMSWebhookToken:  v.GetString("SMS_WEBHOOK_TOKEN"),
		SMSRatePerMinute: getInt(v, "SMS_RATE_PER_MINUTE"),

		APIRatePerMinute: getInt(v, "API_RATE_PER_MINUTE"),

		// Navigation
		CreatorHomePath: v.GetString("CREATOR_HOME_PATH"),
		FanQueuePath:    v.GetString("FAN_QUEUE_PATH"),

		// Monitoring
		EnableMetrics: v.GetBool("ENABLE_METRICS"),
	}
}

// LegacyTopicsOpen reports whether secondary topics may still be served at now.
func (c *Config) LegacyTopicsOpen(now time.Time) bool {
	return c.LegacyTopicSunset.IsZero() || now.Before(c.LegacyTopicSunset)
}

func getInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func getDuration(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(v.GetString(key)); err == nil && d > 0 {
		return d
	}
	// If parsing fails, fall back to the default
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}

func getTime(v *viper.Viper, key string) time.Time {
	raw := v.GetString(key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.Warn("invalid timestamp in config, ignoring", "key", key, "value", raw)
		return time.Time{}
	}
	return t
}

func getDecimal(v *viper.Viper, key string) decimal.Decimal {
	if d, err := decimal.NewFromString(v.GetString(key)); err == nil && d.IsPositive() {
		return d
	}
	return decimal.RequireFromString(defaults[key].(string))
}
