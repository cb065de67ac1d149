// Package connection owns the single authenticated STOMP session to the
// chat server. It reconnects on a fixed delay after unexpected loss,
// exchanges heart-beats, and multiplexes destination subscriptions over
// the one transport.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/observer"
	"github.com/orchestra-mcp/chatsync/src/stomp"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Publish when no session is established.
// Nothing is queued for later delivery.
var ErrNotConnected = errors.New("connection: not connected")

// Dialer opens the message-framed transport to the server.
type Dialer interface {
	Dial(ctx context.Context, serverURL string) (types.Conn, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the realtime connection.
type Manager struct {
	cfg    *config.ChatConfig
	dialer Dialer
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	state    types.ConnState
	token    string
	conn     types.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	attempts int
	subs     map[string]*Subscription

	writeMu sync.Mutex
	states  observer.List[types.ConnState]
}

// New creates a Manager. Nothing is dialed until Connect.
func New(cfg *config.ChatConfig, dialer Dialer, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock.New(),
		logger: logger.With().Str("component", "connection").Logger(),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of consecutive failed sessions since the
// last successful connect.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// OnStateChange registers a callback for state transitions.
func (m *Manager) OnStateChange(fn func(types.ConnState)) (cancel func()) {
	return m.states.Subscribe(fn)
}

// Connect starts the connection in the background. It is a no-op unless
// the manager is Disconnected, and does nothing but log when credential is
// empty. Callers must not assume the session is up when Connect returns.
func (m *Manager) Connect(credential string) {
	if credential == "" {
		m.logger.Warn().Msg("no credential available, not connecting")
		return
	}

	m.mu.Lock()
	if m.state != types.Disconnected {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.token = credential
	m.cancel = cancel
	m.done = done
	m.state = types.Connecting
	m.mu.Unlock()

	m.states.Notify(types.Connecting)
	m.logger.Info().Str("url", m.cfg.ServerURL).Msg("connecting")
	go m.run(ctx, done)
}

// Disconnect unsubscribes every active subscription, then tears down the
// transport and returns to Disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*Subscription)
	conn := m.conn
	if m.state != types.Connected {
		conn = nil
	}
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if conn != nil {
		for _, s := range subs {
			if err := m.writeFrame(conn, stomp.Unsubscribe(s.id)); err != nil {
				m.logger.Debug().Err(err).Str("destination", s.destination).Msg("unsubscribe on disconnect failed")
			}
		}
		if err := m.writeFrame(conn, stomp.Disconnect()); err != nil {
			m.logger.Debug().Err(err).Msg("disconnect frame failed")
		}
	}
	for _, s := range subs {
		s.close()
	}

	cancel()
	<-done

	m.mu.Lock()
	m.conn = nil
	m.token = ""
	m.attempts = 0
	m.state = types.Disconnected
	m.mu.Unlock()

	m.states.Notify(types.Disconnected)
	m.logger.Info().Int("subscriptions", len(subs)).Msg("disconnected")
}

// Publish JSON-encodes payload and sends it to destination. When not
// connected it logs a warning and returns ErrNotConnected.
func (m *Manager) Publish(destination string, payload any) error {
	conn := m.liveConn()
	if conn == nil {
		m.logger.Warn().Str("destination", destination).Msg("cannot publish: not connected")
		return ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("connection: encode payload for %s: %w", destination, err)
	}
	if err := m.writeFrame(conn, stomp.Send(destination, body)); err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("publish failed")
		return fmt.Errorf("connection: publish to %s: %w", destination, err)
	}
	return nil
}

// Subscribe returns a stream for destination. When no session is up the
// SUBSCRIBE is deferred until the next successful connect and performed
// once for that session; every later session re-issues it.
func (m *Manager) Subscribe(destination string) types.Stream {
	sub := newSubscription(m, "sub-"+uuid.NewString(), destination, m.cfg.SubscriptionBuffer)

	m.mu.Lock()
	m.subs[sub.id] = sub
	var conn types.Conn
	if m.state == types.Connected {
		conn = m.conn
	}
	m.mu.Unlock()

	if conn == nil {
		m.logger.Debug().Str("destination", destination).Msg("subscription deferred until connected")
		return sub
	}
	if err := m.writeFrame(conn, stomp.Subscribe(sub.id, destination)); err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("subscribe failed, will retry on reconnect")
	}
	return sub
}

// Destinations returns the destinations of all live subscriptions.
func (m *Manager) Destinations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.destination)
	}
	return out
}

func (m *Manager) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	if _, ok := m.subs[sub.id]; !ok {
		m.mu.Unlock()
		sub.close()
		return
	}
	delete(m.subs, sub.id)
	var conn types.Conn
	if m.state == types.Connected {
		conn = m.conn
	}
	m.mu.Unlock()

	if conn != nil {
		if err := m.writeFrame(conn, stomp.Unsubscribe(sub.id)); err != nil {
			m.logger.Debug().Err(err).Str("destination", sub.destination).Msg("unsubscribe frame failed")
		}
	}
	sub.close()
}

func (m *Manager) liveConn() types.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.Connected {
		return nil
	}
	return m.conn
}

func (m *Manager) setState(s types.ConnState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.states.Notify(s)
	}
}

// run drives sessions until the context is cancelled by Disconnect.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.setState(types.Connecting)
		m.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", m.cfg.ReconnectDelay).
			Msg("connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.cfg.ReconnectDelay):
		}
	}
}

// session dials, authenticates and reads until the transport fails.
func (m *Manager) session(ctx context.Context) error {
	conn, err := m.dialer.Dial(ctx, m.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	connect := stomp.Connect(hostOf(m.cfg.ServerURL), token, m.cfg.HeartbeatOutgoing, m.cfg.HeartbeatIncoming)
	if err := m.writeFrame(conn, connect); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	connected, err := m.awaitConnected(conn)
	if err != nil {
		return err
	}

	send, expect, err := stomp.Negotiate(m.cfg.HeartbeatOutgoing, m.cfg.HeartbeatIncoming, connected.Header.Get(stomp.HeaderHeartBeat))
	if err != nil {
		m.logger.Warn().Err(err).Msg("ignoring server heart-beat header")
		send, expect = 0, 0
	}

	var lastRead atomic.Int64
	lastRead.Store(m.clock.Now().UnixNano())

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return ctx.Err()
	}
	m.conn = conn
	m.state = types.Connected
	m.attempts = 0
	pending := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		pending = append(pending, s)
	}
	m.mu.Unlock()

	m.states.Notify(types.Connected)
	m.logger.Info().
		Dur("heartbeat_send", send).
		Dur("heartbeat_expect", expect).
		Int("subscriptions", len(pending)).
		Msg("connected")

	for _, s := range pending {
		if err := m.writeFrame(conn, stomp.Subscribe(s.id, s.destination)); err != nil {
			m.logger.Warn().Err(err).Str("destination", s.destination).Msg("subscribe failed")
		}
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	if send > 0 || expect > 0 {
		go m.heartbeat(hbCtx, conn, send, expect, &lastRead)
	}

	err = m.readLoop(conn, &lastRead)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) awaitConnected(conn types.Conn) (*stomp.Frame, error) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		f, err := stomp.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, fmt.Errorf("server rejected connection: %s", f.Header.Get(stomp.HeaderMessage))
		default:
			return nil, fmt.Errorf("unexpected %s before CONNECTED", f.Command)
		}
	}
}

func (m *Manager) readLoop(conn types.Conn, lastRead *atomic.Int64) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		lastRead.Store(m.clock.Now().UnixNano())

		f, err := stomp.Decode(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			m.deliver(f)
		case frame.ERROR:
			m.logger.Error().
				Str("message", f.Header.Get(stomp.HeaderMessage)).
				Str("body", string(f.Body)).
				Msg("server error frame")
			return fmt.Errorf("server error: %s", f.Header.Get(stomp.HeaderMessage))
		default:
			m.logger.Debug().Str("command", f.Command).Msg("ignoring frame")
		}
	}
}

func (m *Manager) deliver(f *stomp.Frame) {
	id := f.Header.Get(stomp.HeaderSubscription)
	m.mu.Lock()
	sub := m.subs[id]
	m.mu.Unlock()
	if sub == nil {
		m.logger.Debug().
			Str("subscription", id).
			Str("destination", f.Header.Get(stomp.HeaderDestination)).
			Msg("message for unknown subscription")
		return
	}
	sub.deliver(f.Body)
}

// heartbeat sends EOLs every send interval and closes the transport when
// nothing has been read for twice the expect interval.
func (m *Manager) heartbeat(ctx context.Context, conn types.Conn, send, expect time.Duration, lastRead *atomic.Int64) {
	interval := send
	if interval == 0 || (expect > 0 && expect < interval) {
		interval = expect
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	lastSent := m.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if send > 0 && now.Sub(lastSent) >= send {
				if err := m.writeRaw(conn, stomp.Heartbeat); err != nil {
					m.logger.Debug().Err(err).Msg("heart-beat send failed")
				}
				lastSent = now
			}
			if expect > 0 {
				silent := now.Sub(time.Unix(0, lastRead.Load()))
				if silent > 2*expect {
					m.logger.Warn().Dur("silent_for", silent).Msg("server heart-beat missed, dropping connection")
					_ = conn.Close()
					return
				}
			}
		}
	}
}

func (m *Manager) writeFrame(conn types.Conn, f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	return m.writeRaw(conn, data)
}

func (m *Manager) writeRaw(conn types.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func hostOf(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
