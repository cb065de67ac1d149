// Package store holds the client's conversation state: the room list with
// previews, one reconciled timeline per room, the focused room and the
// typing users of each room.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/observer"
	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// Fetcher loads rooms and history from the REST collaborator.
type Fetcher interface {
	Rooms(ctx context.Context) ([]types.Room, error)
	Messages(ctx context.Context, roomID string, page, size int) (*types.MessagePage, error)
}

// ChangeKind names the part of the state that changed.
type ChangeKind int

const (
	ChangeRooms ChangeKind = iota + 1
	ChangeMessages
	ChangeTyping
	ChangeFocus
	ChangeLoading
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRooms:
		return "rooms"
	case ChangeMessages:
		return "messages"
	case ChangeTyping:
		return "typing"
	case ChangeFocus:
		return "focus"
	case ChangeLoading:
		return "loading"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is delivered to observers after a mutation. RoomID is empty for
// changes that are not specific to one room.
type Change struct {
	Kind   ChangeKind
	RoomID string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

type typingEntry struct {
	signal types.TypingSignal
	timer  *clock.Timer
}

// Store is the conversation state. It is safe for concurrent use.
type Store struct {
	cfg     *config.ChatConfig
	fetcher Fetcher
	clock   clock.Clock
	logger  zerolog.Logger

	mu        sync.Mutex
	selfID    string
	rooms     []types.Room
	timelines map[string]*reconcile.Timeline
	focused   string
	typing    map[string][]*typingEntry
	loading   bool

	changes observer.List[Change]
}

// New creates an empty Store.
func New(cfg *config.ChatConfig, fetcher Fetcher, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		cfg:       cfg,
		fetcher:   fetcher,
		clock:     clock.New(),
		logger:    logger.With().Str("component", "store").Logger(),
		timelines: make(map[string]*reconcile.Timeline),
		typing:    make(map[string][]*typingEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for state changes.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// SetSelf records the signed-in user. Reconciliation and typing use it to
// tell the user's own traffic apart.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = userID
}

// Self returns the signed-in user id.
func (s *Store) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Loading reports whether a room list load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.changes.Notify(Change{Kind: ChangeLoading})
}

func (s *Store) notify(changes ...Change) {
	for _, c := range changes {
		s.changes.Notify(c)
	}
}

// timeline returns the room's timeline, creating it. Callers hold s.mu.
func (s *Store) timeline(roomID string) *reconcile.Timeline {
	tl, ok := s.timelines[roomID]
	if !ok {
		tl = reconcile.NewTimeline()
		s.timelines[roomID] = tl
	}
	return tl
}

// reverse returns msgs in the opposite order without modifying it.
func reverse(msgs []types.Message) []types.Message {
	out := slices.Clone(msgs)
	slices.Reverse(out)
	return out
}
