package bridge

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig says where a client mirrors its chat events. Every process
// signed in as the same user shares one channel under Prefix.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// Disabled turns the mirror off; the session runs standalone.
	Disabled bool
}

// DefaultRedisConfig mirrors through a local Redis.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "chatsync:",
	}
}

// RedisConfigFromEnv reads the mirror settings. CHAT_REDIS_URL, when set
// and parseable, wins over REDIS_ADDR, REDIS_PASSWORD and REDIS_DB.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if raw := os.Getenv("CHAT_REDIS_URL"); raw != "" {
		if opt, err := redis.ParseURL(raw); err == nil {
			cfg.Addr = opt.Addr
			cfg.Username = opt.Username
			cfg.Password = opt.Password
			cfg.DB = opt.DB
		}
	} else {
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			cfg.Addr = addr
		}
		if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
			cfg.Password = pw
		}
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil && db >= 0 {
				cfg.DB = db
			}
		}
	}
	if prefix := os.Getenv("CHAT_BRIDGE_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if v, err := strconv.ParseBool(os.Getenv("CHAT_BRIDGE_DISABLED")); err == nil {
		cfg.Disabled = v
	}
	return cfg
}

// Validate checks the settings before any connection is attempted.
func (c *RedisConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("redis address is empty"))
	}
	if c.DB < 0 {
		errs = append(errs, fmt.Errorf("redis db %d is negative", c.DB))
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, " *?[") {
		errs = append(errs, fmt.Errorf("channel prefix %q is empty or contains pattern characters", c.Prefix))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("bridge: invalid config: %w", err)
	}
	return nil
}

// Options converts the settings for the Redis client.
func (c *RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
}

// Channel returns the pub/sub channel a user's events are mirrored on.
// Processes signed in as different users never share a channel.
func (c *RedisConfig) Channel(userID string) string {
	return c.Prefix + "events:" + userID
}
