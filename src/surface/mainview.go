package surface

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/store"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// MainView is the primary chat surface. It shows the store's focused room.
type MainView struct {
	store    *store.Store
	registry Registry
	pub      Publisher
	identity Identity
	composer *Composer
	clock    clock.Clock
	debounce time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	typingTimer *clock.Timer
}

// NewMainView creates the main view over s.
func NewMainView(cfg *config.ChatConfig, deps Deps, s *store.Store) *MainView {
	logger := deps.Logger.With().Str("component", "main-view").Logger()
	return &MainView{
		store:    s,
		registry: deps.Registry,
		pub:      deps.Publisher,
		identity: deps.Identity,
		composer: NewComposer(deps.Clock, deps.IDs, deps.Publisher, cfg.SendCooldown, logger),
		clock:    deps.Clock,
		debounce: cfg.TypingDebounce,
		logger:   logger,
	}
}

// Open focuses roomID, subscribes to its message and typing topics and
// loads the newest page of history. The previous room's message topic
// stays subscribed; its typing topic does not.
func (v *MainView) Open(ctx context.Context, roomID string) error {
	prev := v.store.Focused()
	if prev != "" && prev != roomID {
		v.leave(prev)
	}

	v.store.Focus(roomID)
	subscribeRoom(v.registry, v.store.ApplyIncoming, roomID)
	v.registry.EnsureSubscribed(types.TypingTopic(roomID), func(ev types.Event) {
		if ev.Typing != nil {
			v.store.ApplyTyping(*ev.Typing)
		}
	})

	v.logger.Info().Str("room_id", roomID).Msg("room opened")
	return v.store.LoadMessages(ctx, roomID, 0)
}

// LoadOlder loads an older page of the focused room's history.
func (v *MainView) LoadOlder(ctx context.Context, page int) error {
	roomID := v.store.Focused()
	if roomID == "" {
		return ErrNoRoom
	}
	return v.store.LoadMessages(ctx, roomID, page)
}

// Leave clears the focus and the focused room's typing state.
func (v *MainView) Leave() {
	roomID := v.store.Focused()
	if roomID == "" {
		return
	}
	v.leave(roomID)
	v.store.Focus("")
	v.logger.Info().Str("room_id", roomID).Msg("room left")
}

func (v *MainView) leave(roomID string) {
	v.mu.Lock()
	if v.typingTimer != nil {
		v.typingTimer.Stop()
		v.typingTimer = nil
	}
	v.mu.Unlock()

	v.registry.Unsubscribe(types.TypingTopic(roomID))
	v.store.ClearTyping(roomID)
}

// Send optimistically appends content to the focused room and publishes
// it.
func (v *MainView) Send(content string) (types.Message, error) {
	roomID := v.store.Focused()
	if roomID == "" {
		return types.Message{}, ErrNoRoom
	}
	return v.composer.Send(v.identity.CurrentUser(), roomID, content, v.store.AddProvisional)
}

// Typing announces that the user is typing in the focused room. Calls are
// debounced; only the last one in a burst is published.
func (v *MainView) Typing() {
	roomID := v.store.Focused()
	if roomID == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.typingTimer = v.clock.AfterFunc(v.debounce, func() {
		if v.store.Focused() != roomID {
			return
		}
		if err := v.pub.Publish(types.TypingDestination(roomID), struct{}{}); err != nil {
			v.logger.Debug().Err(err).Str("room_id", roomID).Msg("typing not published")
		}
	})
}

// Room returns the focused room id.
func (v *MainView) Room() string { return v.store.Focused() }

// Messages returns the focused room's timeline.
func (v *MainView) Messages() []types.Message { return v.store.FocusedMessages() }

// TypingUsers returns who is typing in the focused room.
func (v *MainView) TypingUsers() []types.TypingSignal {
	roomID := v.store.Focused()
	if roomID == "" {
		return nil
	}
	return v.store.TypingUsers(roomID)
}
