package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DatabaseDriver  string // "sqlite" (default) or "postgres"
	DatabaseDSN     string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitIP    int // all /v1/ requests per client IP per minute (default: 600)
	RateLimitPush  int // /sync/push per API key per minute (default: 60)
	RateLimitPull  int // /sync/pull per API key per minute (default: 120)
	RateLimitOther int // all other per API key per minute (default: 300)

	CORSAllowedOrigins []string // allowed origins for browser clients; empty = disabled

	RateLimitEventRetention time.Duration // default: 30 days

	// SerializeBusinessWrites runs push batches for the same business one at
	// a time on this instance.
	SerializeBusinessWrites bool
	MembershipCacheTTL      time.Duration // 0 disables the cache

	AMQPURL       string
	AMQPQueue     string
	WebhookURL    string
	WebhookSecret string
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DatabaseDriver:  "sqlite",
		DatabaseDSN:     "./data/salonsync.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitIP:    600,
		RateLimitPush:  60,
		RateLimitPull:  120,
		RateLimitOther: 300,

		RateLimitEventRetention: 30 * 24 * time.Hour,
		MembershipCacheTTL:      30 * time.Second,
	}

	if v := os.Getenv("SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SYNC_DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("SYNC_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	envInt("SYNC_RATE_LIMIT_IP", &cfg.RateLimitIP)
	envInt("SYNC_RATE_LIMIT_PUSH", &cfg.RateLimitPush)
	envInt("SYNC_RATE_LIMIT_PULL", &cfg.RateLimitPull)
	envInt("SYNC_RATE_LIMIT_OTHER", &cfg.RateLimitOther)

	if v := os.Getenv("SYNC_RATE_LIMIT_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.RateLimitEventRetention = d
		}
	}

	if v := os.Getenv("SYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	if v := os.Getenv("SYNC_SERIALIZE_BUSINESS_WRITES"); v != "" {
		cfg.SerializeBusinessWrites, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SYNC_MEMBERSHIP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.MembershipCacheTTL = d
		}
	}

	cfg.AMQPURL = os.Getenv("SYNC_AMQP_URL")
	cfg.AMQPQueue = os.Getenv("SYNC_AMQP_QUEUE")
	cfg.WebhookURL = os.Getenv("SYNC_WEBHOOK_URL")
	cfg.WebhookSecret = os.Getenv("SYNC_WEBHOOK_SECRET")

	return cfg
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
