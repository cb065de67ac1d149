// Package app is the composition root: it activates a chat session over
// the real transport, attaches the optional Redis event mirror and exposes
// local status routes.
package app

import (
	"errors"
	"sync"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/api"
	"github.com/orchestra-mcp/chatsync/src/bridge"
	"github.com/orchestra-mcp/chatsync/src/connection"
	"github.com/orchestra-mcp/chatsync/src/service"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// ErrNotActive is returned when the app has no active session.
var ErrNotActive = errors.New("app: not active")

// BridgeFactory builds the event mirror for a user. It returns nil when
// mirroring is turned off.
type BridgeFactory func(userID string, target bridge.BroadcastTarget) bridge.Bridge

// Option configures an App.
type Option func(*App)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d connection.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithBridgeFactory replaces the Redis bridge constructor. A nil factory
// disables the bridge.
func WithBridgeFactory(f BridgeFactory) Option {
	return func(a *App) { a.newBridge = f }
}

// WithAPIOptions passes options to the REST client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(a *App) { a.apiOpts = append(a.apiOpts, opts...) }
}

// App owns one chat session and its supporting infrastructure.
type App struct {
	cfg       *config.ChatConfig
	logger    zerolog.Logger
	dialer    connection.Dialer
	newBridge BridgeFactory
	apiOpts   []api.Option

	mu      sync.RWMutex
	active  bool
	conn    *connection.Manager
	service *service.Service
	bridge  bridge.Bridge
}

// New creates an inactive App.
func New(cfg *config.ChatConfig, logger zerolog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger,
		dialer: connection.NewWebsocketDialer(cfg.WriteTimeout),
	}
	a.newBridge = func(userID string, target bridge.BroadcastTarget) bridge.Bridge {
		cfg := bridge.RedisConfigFromEnv()
		if cfg.Disabled {
			return nil
		}
		return bridge.NewRedisBridge(cfg, userID, target, a.logger)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) ID() string      { return "chatsync" }
func (a *App) Version() string { return "0.1.0" }

// IsActive reports whether a session is running.
func (a *App) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Service returns the active chat service, or nil.
func (a *App) Service() *service.Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.service
}

// Activate builds the connection, REST client and chat service for
// session and connects.
func (a *App) Activate(session types.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}

	conn := connection.New(a.cfg, a.dialer, a.logger)
	client := api.New(a.cfg, a.logger, a.apiOpts...)
	svc := service.New(a.cfg, conn, client, a.logger)
	if err := svc.Init(session); err != nil {
		return err
	}

	a.conn = conn
	a.service = svc

	// Attempt Redis bridge connection (non-fatal if unavailable).
	a.initBridge(session.User.ID)

	a.active = true
	a.logger.Info().Str("app", a.ID()).Str("server", a.cfg.ServerURL).Msg("chat activated")
	return nil
}

// initBridge tries to start the event mirror. If it cannot start, the
// session runs standalone. Callers hold a.mu.
func (a *App) initBridge(userID string) {
	if a.newBridge == nil {
		return
	}
	b := a.newBridge(userID, a.service.Registry())
	if b == nil {
		a.logger.Info().Msg("event bridge disabled")
		return
	}
	if err := b.Start(); err != nil {
		a.logger.Warn().Err(err).Msg("event bridge unavailable, running standalone")
		_ = b.Stop()
		return
	}

	a.bridge = b
	a.service.Registry().SetBridge(b)
	a.logger.Info().Str("user_id", userID).Msg("event bridge connected")
}

// Deactivate stops the bridge and ends the session.
func (a *App) Deactivate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}

	if a.bridge != nil {
		a.service.Registry().SetBridge(nil)
		if err := a.bridge.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("bridge stop error")
		}
		a.bridge = nil
	}
	a.service.Destroy()
	a.service = nil
	a.conn = nil
	a.active = false
	a.logger.Info().Str("app", a.ID()).Msg("chat deactivated")
	return nil
}
