package config

import (
	"os"
	"strconv"
	"time"
)

// ChatConfig holds realtime chat client configuration.
type ChatConfig struct {
	ServerURL          string        `json:"server_url"`
	APIURL             string        `json:"api_url"`
	ReconnectDelay     time.Duration `json:"reconnect_delay"`
	HeartbeatIncoming  time.Duration `json:"heartbeat_incoming"`
	HeartbeatOutgoing  time.Duration `json:"heartbeat_outgoing"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	RequestTimeout     time.Duration `json:"request_timeout"`
	PageSize           int           `json:"page_size"`
	SendCooldown       time.Duration `json:"send_cooldown"`
	TypingTTL          time.Duration `json:"typing_ttl"`
	TypingDebounce     time.Duration `json:"typing_debounce"`
	SubscriptionBuffer int           `json:"subscription_buffer"`
}

// DefaultConfig returns the default chat configuration.
func DefaultConfig() *ChatConfig {
	return &ChatConfig{
		ServerURL:          "ws://localhost:8080/ws",
		APIURL:             "http://localhost:8080/api/v1/chat",
		ReconnectDelay:     5 * time.Second,
		HeartbeatIncoming:  4 * time.Second,
		HeartbeatOutgoing:  4 * time.Second,
		WriteTimeout:       10 * time.Second,
		RequestTimeout:     10 * time.Second,
		PageSize:           50,
		SendCooldown:       500 * time.Millisecond,
		TypingTTL:          3 * time.Second,
		TypingDebounce:     300 * time.Millisecond,
		SubscriptionBuffer: 256,
	}
}

// ConfigFromEnv loads chat configuration from environment variables.
// Falls back to defaults for any missing or unparseable values.
func ConfigFromEnv() *ChatConfig {
	cfg := DefaultConfig()

	if v := os.Getenv("CHAT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("CHAT_API_URL"); v != "" {
		cfg.APIURL = v
	}
	durationFromEnv("CHAT_RECONNECT_DELAY", &cfg.ReconnectDelay)
	if durationFromEnv("CHAT_HEARTBEAT", &cfg.HeartbeatIncoming) {
		cfg.HeartbeatOutgoing = cfg.HeartbeatIncoming
	}
	durationFromEnv("CHAT_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	durationFromEnv("CHAT_SEND_COOLDOWN", &cfg.SendCooldown)
	durationFromEnv("CHAT_TYPING_TTL", &cfg.TypingTTL)
	if v := os.Getenv("CHAT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PageSize = n
		}
	}
	return cfg
}

func durationFromEnv(key string, dst *time.Duration) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return false
	}
	*dst = d
	return true
}
