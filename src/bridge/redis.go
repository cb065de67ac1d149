package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stats counts events through the bridge.
type Stats struct {
	Published int64 `json:"published"`
	Relayed   int64 `json:"relayed"`
	Dropped   int64 `json:"dropped"`
}

// RedisBridge mirrors chat events between processes via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	invalid    error
	instanceID string
	target     BroadcastTarget
	logger     zerolog.Logger

	published atomic.Int64
	relayed   atomic.Int64
	dropped   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

var _ Bridge = (*RedisBridge)(nil)

// NewRedisBridge creates a bridge for userID's events. Nothing connects
// until Start.
func NewRedisBridge(cfg *RedisConfig, userID string, target BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())

	invalid := cfg.Validate()
	if invalid == nil && userID == "" {
		invalid = errors.New("bridge: no user to scope the channel to")
	}

	return &RedisBridge{
		client:     redis.NewClient(cfg.Options()),
		invalid:    invalid,
		channel:    cfg.Channel(userID),
		instanceID: uuid.NewString(),
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this process on the channel.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the user's channel and begins relaying events.
func (b *RedisBridge) Start() error {
	if b.invalid != nil {
		return b.invalid
	}
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return fmt.Errorf("bridge: ping redis: %w", err)
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("bridge: subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish mirrors ev to the other processes.
func (b *RedisBridge) Publish(ev types.Event) error {
	data, err := encodeEnvelope(envelope{
		InstanceID: b.instanceID,
		SentAt:     time.Now().UTC(),
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("bridge: encode %s event: %w", ev.Kind, err)
	}
	if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("bridge: publish: %w", err)
	}
	b.published.Add(1)
	return nil
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Stats returns the event counters.
func (b *RedisBridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Relayed:   b.relayed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// listen reads from the Redis subscription and forwards to the registry.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle([]byte(msg.Payload))
		case <-b.ctx.Done():
			return
		}
	}
}

// handle decodes an envelope and forwards events from other processes.
func (b *RedisBridge) handle(payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		b.dropped.Add(1)
		b.logger.Error().Err(err).Msg("failed to decode bridged event")
		return
	}

	// Skip events that originated from this process.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("topic", env.Event.Topic).
		Stringer("kind", env.Event.Kind).
		Dur("lag", time.Since(env.SentAt)).
		Msg("relaying bridged event")

	b.relayed.Add(1)
	b.target.BroadcastToLocal(env.Event)
}
