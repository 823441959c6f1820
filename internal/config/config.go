package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string

	NatsURL   string
	NatsToken string

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration

	LeadScoreThreshold int
	HistoryLimit       int
	ChatChannel        string
	LeadOwner          string
	NurtureBucket      string

	// NotifyTargets maps event types to webhook URLs. Unlisted event types
	// are silently dropped by the dispatcher.
	NotifyTargets      map[string]string
	NotifyPollInterval time.Duration
	NotifyBatchSize    int
	NotifyMaxAttempts  int
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("LEADFLOW_PORT", 8080),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		NatsURL:   envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken: envStr("NATS_TOKEN", ""),

		GatewayURL:     envStr("GATEWAY_URL", "http://localhost:8600"),
		GatewayAPIKey:  envStr("GATEWAY_API_KEY", ""),
		GatewayTimeout: envDuration("GATEWAY_TIMEOUT", 10*time.Second),

		LeadScoreThreshold: envInt("LEAD_SCORE_THRESHOLD", 60),
		HistoryLimit:       envInt("HISTORY_LIMIT", 20),
		ChatChannel:        envStr("CHAT_CHANNEL", "Web"),
		LeadOwner:          envStr("LEAD_OWNER", "unassigned"),
		NurtureBucket:      envStr("NURTURE_BUCKET", "general"),

		NotifyTargets:      envStrMap("NOTIFY_TARGETS_JSON"),
		NotifyPollInterval: envDuration("NOTIFY_POLL_INTERVAL", 5*time.Second),
		NotifyBatchSize:    envInt("NOTIFY_BATCH_SIZE", 25),
		NotifyMaxAttempts:  envInt("NOTIFY_MAX_ATTEMPTS", 3),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envStrMap parses a JSON object of string -> string. Malformed input yields
// an empty map rather than a crash on boot.
func envStrMap(key string) map[string]string {
	m := map[string]string{}
	if v := os.Getenv(key); v != "" {
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return map[string]string{}
		}
	}
	return m
}
