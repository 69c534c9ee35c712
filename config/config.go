package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed endpoint
	FeedURL    string // websocket endpoint for live ticks
	HistoryURL string // optional HTTP endpoint for historical bars
	Symbol     string
	TOTPSecret string // optional, sent as a session code on connect

	// Reconnect policy
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MaxReconnects   int
	HeartbeatPeriod time.Duration

	// Pipeline
	BufferCapacity  int
	Granularity     time.Duration
	RuleDBPath      string
	RuleRefreshIvl  time.Duration

	// Notifier: "log", "telegram" or "webhook"
	NotifierKind     string
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedURL:    mustEnv("FEED_URL"),
		HistoryURL: getEnv("HISTORY_URL", ""),
		Symbol:     getEnv("SYMBOL", "BTCUSD"),
		TOTPSecret: getEnv("FEED_TOTP_SECRET", ""),

		BackoffBase:     getDuration("BACKOFF_BASE", time.Second),
		BackoffMax:      getDuration("BACKOFF_MAX", 30*time.Second),
		MaxReconnects:   getInt("MAX_RECONNECTS", 10),
		HeartbeatPeriod: getDuration("HEARTBEAT_PERIOD", 30*time.Second),

		BufferCapacity: getInt("BUFFER_CAPACITY", 1000),
		Granularity:    getDuration("GRANULARITY", time.Second),
		RuleDBPath:     getEnv("RULE_DB_PATH", "data/rules.db"),
		RuleRefreshIvl: getDuration("RULE_REFRESH_INTERVAL", 30*time.Second),

		NotifierKind:     getEnv("NOTIFIER", "log"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] skipping invalid int for %s: %q", key, v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] skipping invalid duration for %s: %q", key, v)
		return fallback
	}
	return d
}
