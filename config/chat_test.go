package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ws://localhost:8080/ws", cfg.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 4*time.Second, cfg.HeartbeatIncoming)
	assert.Equal(t, 4*time.Second, cfg.HeartbeatOutgoing)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.SendCooldown)
	assert.Equal(t, 3*time.Second, cfg.TypingTTL)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_SERVER_URL", "wss://chat.example.com/ws")
	t.Setenv("CHAT_API_URL", "https://chat.example.com/api/v1/chat")
	t.Setenv("CHAT_RECONNECT_DELAY", "2s")
	t.Setenv("CHAT_HEARTBEAT", "10s")
	t.Setenv("CHAT_PAGE_SIZE", "20")

	cfg := ConfigFromEnv()
	assert.Equal(t, "wss://chat.example.com/ws", cfg.ServerURL)
	assert.Equal(t, "https://chat.example.com/api/v1/chat", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatIncoming)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatOutgoing)
	assert.Equal(t, 20, cfg.PageSize)
}

func TestConfigFromEnvInvalidValues(t *testing.T) {
	t.Setenv("CHAT_RECONNECT_DELAY", "soon")
	t.Setenv("CHAT_PAGE_SIZE", "-3")

	cfg := ConfigFromEnv()
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 50, cfg.PageSize)
}
