// Package surface projects conversations onto the places a user reads
// them: the main chat view and any number of floating windows. Each
// surface keeps its own timeline and its own send cooldown.
package surface

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrCooldown is returned when a send follows the previous one on the
	// same surface too closely.
	ErrCooldown = errors.New("surface: send cooldown active")
	// ErrEmptyMessage is returned for blank content.
	ErrEmptyMessage = errors.New("surface: empty message")
	// ErrNoRoom is returned when the main view has no focused room.
	ErrNoRoom = errors.New("surface: no room open")
)

// Publisher sends commands to the server.
type Publisher interface {
	Publish(destination string, payload any) error
}

// Registry is the subset of the topic registry surfaces use.
type Registry interface {
	EnsureSubscribed(topic string, handler func(types.Event)) bool
	Unsubscribe(topic string) bool
	OnEvent(kind types.EventKind, fn func(types.Event)) (cancel func())
}

// Identity returns the signed-in user.
type Identity interface {
	CurrentUser() types.User
}

// Deps are the collaborators shared by every surface.
type Deps struct {
	Registry  Registry
	Publisher Publisher
	Identity  Identity
	IDs       *reconcile.IDGenerator
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// Composer builds provisional messages and publishes send commands for
// one surface, rejecting sends inside the cooldown window.
type Composer struct {
	clock    clock.Clock
	ids      *reconcile.IDGenerator
	pub      Publisher
	cooldown time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	until time.Time
}

// NewComposer creates a Composer. ids should be shared by every surface
// in the process so provisional ids stay strictly increasing.
func NewComposer(c clock.Clock, ids *reconcile.IDGenerator, pub Publisher, cooldown time.Duration, logger zerolog.Logger) *Composer {
	return &Composer{clock: c, ids: ids, pub: pub, cooldown: cooldown, logger: logger}
}

// Send inserts a provisional message through insert and then publishes
// the send command. It never waits for the echo. A publish failure is
// returned but the provisional entry stays.
func (c *Composer) Send(user types.User, roomID, content string, insert func(types.Message)) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyMessage
	}

	now := c.clock.Now()
	c.mu.Lock()
	if now.Before(c.until) {
		c.mu.Unlock()
		return types.Message{}, ErrCooldown
	}
	c.until = now.Add(c.cooldown)
	c.mu.Unlock()

	m := c.provisional(user, roomID, content, now)
	insert(m)

	cmd := types.SendCommand{Content: content, MessageType: types.MessageText}
	if err := c.pub.Publish(types.SendDestination(roomID), cmd); err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Str("provisional_id", m.ID).Msg("send not published")
		return m, fmt.Errorf("surface: send to room %s: %w", roomID, err)
	}
	return m, nil
}

func (c *Composer) provisional(user types.User, roomID, content string, now time.Time) types.Message {
	m := types.Message{
		ID:             c.ids.Next(),
		RoomID:         roomID,
		SenderID:       user.ID,
		SenderUsername: user.Username,
		SenderFullName: user.FullName,
		Content:        content,
		MessageType:    types.MessageText,
		CreatedAt:      now.UTC(),
	}
	if m.SenderID == "" {
		m.SenderID = "unknown"
	}
	if m.SenderUsername == "" {
		m.SenderUsername = "me"
	}
	if m.SenderFullName == "" {
		m.SenderFullName = "Me"
	}
	return m
}

// subscribeRoom makes sure the room's message topic feeds the store,
// whichever surface opens the room first.
func subscribeRoom(r Registry, apply func(types.Message) reconcile.Outcome, roomID string) {
	r.EnsureSubscribed(types.RoomTopic(roomID), func(ev types.Event) {
		if ev.Message != nil {
			apply(*ev.Message)
		}
	})
}
