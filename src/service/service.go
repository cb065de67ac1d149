// Package service is the chat facade: it composes the connection, the
// topic registry, the store, presence and the surfaces behind one API
// bound to a signed-in session.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/hub"
	"github.com/orchestra-mcp/chatsync/src/presence"
	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/store"
	"github.com/orchestra-mcp/chatsync/src/surface"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("service: no session")
	// ErrUnknownRoom is returned when a room is not in the room list.
	ErrUnknownRoom = errors.New("service: unknown room")
)

// Connection is the realtime transport the service drives.
type Connection interface {
	Connect(credential string)
	Disconnect()
	State() types.ConnState
	Publish(destination string, payload any) error
	Subscribe(destination string) types.Stream
}

// ChatAPI is the REST collaborator.
type ChatAPI interface {
	SetToken(token string)
	Rooms(ctx context.Context) ([]types.Room, error)
	Messages(ctx context.Context, roomID string, page, size int) (*types.MessagePage, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (types.Room, error)
	PrivateRoom(ctx context.Context, userID string) (types.Room, error)
	UploadMedia(ctx context.Context, roomID, filename string, content io.Reader) (types.Message, error)
	SearchUsers(ctx context.Context, query string) ([]types.UserSearchResult, error)
	Online(ctx context.Context) ([]types.PresenceEntry, error)
	AddMember(ctx context.Context, roomID, userID string) error
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used by the store and surfaces.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// Service provides the high-level chat API.
type Service struct {
	conn     Connection
	api      ChatAPI
	clock    clock.Clock
	logger   zerolog.Logger
	registry *hub.Registry
	store    *store.Store
	presence *presence.Tracker
	main     *surface.MainView
	windows  *surface.Projection

	mu   sync.RWMutex
	user types.User
}

// New wires a chat service over conn and the REST api.
func New(cfg *config.ChatConfig, conn Connection, api ChatAPI, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		conn:   conn,
		api:    api,
		clock:  clock.New(),
		logger: logger.With().Str("component", "chat-service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = hub.New(conn, logger)
	s.store = store.New(cfg, api, logger, store.WithClock(s.clock))
	s.presence = presence.New(logger)

	deps := surface.Deps{
		Registry:  s.registry,
		Publisher: conn,
		Identity:  s,
		IDs:       reconcile.NewIDGenerator(s.clock),
		Clock:     s.clock,
		Logger:    logger,
	}
	s.main = surface.NewMainView(cfg, deps, s.store)
	s.windows = surface.NewProjection(cfg, deps, api, s.store.ApplyIncoming)
	return s
}

// Registry returns the topic registry.
func (s *Service) Registry() *hub.Registry { return s.registry }

// Store returns the conversation store.
func (s *Service) Store() *store.Store { return s.store }

// Presence returns the presence tracker.
func (s *Service) Presence() *presence.Tracker { return s.presence }

// Main returns the main chat view.
func (s *Service) Main() *surface.MainView { return s.main }

// Windows returns the floating window projection.
func (s *Service) Windows() *surface.Projection { return s.windows }

// State returns the realtime connection state.
func (s *Service) State() types.ConnState { return s.conn.State() }

// CurrentUser returns the signed-in user.
func (s *Service) CurrentUser() types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Init binds the service to session and opens the realtime connection.
// The presence topic is subscribed right away and sent once connected.
func (s *Service) Init(session types.Session) error {
	if session.Token == "" || session.User.ID == "" {
		return ErrNoSession
	}

	s.mu.Lock()
	s.user = session.User
	s.mu.Unlock()

	s.api.SetToken(session.Token)
	s.store.SetSelf(session.User.ID)
	s.presence.Start(s.registry)
	s.conn.Connect(session.Token)

	s.logger.Info().Str("user_id", session.User.ID).Msg("chat session started")
	return nil
}

// Destroy closes every surface, drops all subscriptions and disconnects.
func (s *Service) Destroy() {
	s.windows.CloseAll()
	s.main.Leave()
	s.registry.UnsubscribeAll()
	s.conn.Disconnect()

	s.mu.Lock()
	s.user = types.User{}
	s.mu.Unlock()
	s.api.SetToken("")

	s.logger.Info().Msg("chat session ended")
}

// LoadRooms refreshes the room list.
func (s *Service) LoadRooms(ctx context.Context) error {
	return s.store.LoadRooms(ctx)
}

// OpenRoom focuses roomID in the main view.
func (s *Service) OpenRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrUnknownRoom
	}
	return s.main.Open(ctx, roomID)
}

// LeaveCurrentRoom clears the main view's focus.
func (s *Service) LeaveCurrentRoom() {
	s.main.Leave()
}

// LoadMessages loads a page of the focused room's history.
func (s *Service) LoadMessages(ctx context.Context, page int) error {
	return s.main.LoadOlder(ctx, page)
}

// SendMessage sends content to the focused room.
func (s *Service) SendMessage(content string) (types.Message, error) {
	return s.main.Send(content)
}

// SendTyping announces typing in the focused room.
func (s *Service) SendTyping() {
	s.main.Typing()
}

// CreateGroupRoom creates a group and puts it at the top of the room list.
func (s *Service) CreateGroupRoom(ctx context.Context, name string, memberIDs []string) (types.Room, error) {
	room, err := s.api.CreateGroup(ctx, name, memberIDs)
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("failed to create group room")
		return types.Room{}, err
	}
	s.store.PrependRoom(room)
	s.logger.Info().Str("room_id", room.ID).Int("members", len(memberIDs)).Msg("group room created")
	return room, nil
}

// OpenPrivateChat gets or creates the private room with userID and shows
// it in a floating window.
func (s *Service) OpenPrivateChat(ctx context.Context, userID string) (*surface.Window, error) {
	room, err := s.api.PrivateRoom(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to open private room")
		return nil, err
	}
	s.store.PrependRoom(room)
	return s.windows.Open(ctx, room)
}

// OpenWindow shows roomID in a floating window.
func (s *Service) OpenWindow(ctx context.Context, roomID string) (*surface.Window, error) {
	room, ok := s.store.Room(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	return s.windows.Open(ctx, room)
}

// CloseWindow closes roomID's floating window.
func (s *Service) CloseWindow(roomID string) bool {
	return s.windows.Close(roomID)
}

// ToggleMinimize minimizes or restores roomID's floating window.
func (s *Service) ToggleMinimize(roomID string) (minimized, ok bool) {
	return s.windows.ToggleMinimize(roomID)
}

// UploadMedia uploads a file into roomID. The returned message is applied
// locally; the later echo on the room topic is discarded as a duplicate.
func (s *Service) UploadMedia(ctx context.Context, roomID, filename string, content io.Reader) (types.Message, error) {
	msg, err := s.api.UploadMedia(ctx, roomID, filename, content)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Str("filename", filename).Msg("upload failed")
		return types.Message{}, err
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	s.store.ApplyIncoming(msg)
	return msg, nil
}

// SearchUsers finds users by name.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]types.UserSearchResult, error) {
	return s.api.SearchUsers(ctx, query)
}

// AddMember adds userID to roomID and refreshes the room list.
func (s *Service) AddMember(ctx context.Context, roomID, userID string) error {
	if err := s.api.AddMember(ctx, roomID, userID); err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Str("user_id", userID).Msg("failed to add member")
		return err
	}
	if err := s.store.LoadRooms(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("room list not refreshed after adding member")
	}
	return nil
}

// SeedOnline loads the online list over REST.
func (s *Service) SeedOnline(ctx context.Context) error {
	return s.presence.Seed(ctx, s.api)
}

// IsUserOnline reports whether userID is in the latest presence snapshot.
func (s *Service) IsUserOnline(userID string) bool {
	return s.presence.IsOnline(userID)
}

// AnyMemberOnline reports whether any member of roomID other than the
// signed-in user is online.
func (s *Service) AnyMemberOnline(roomID string) bool {
	room, ok := s.store.Room(roomID)
	if !ok {
		return false
	}
	ids := make([]string, 0, len(room.Members))
	for _, m := range room.Members {
		ids = append(ids, m.UserID)
	}
	return s.presence.AnyOnline(s.CurrentUser().ID, ids...)
}
