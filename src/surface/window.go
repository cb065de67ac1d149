package surface

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// HistoryFetcher loads pages of room history.
type HistoryFetcher interface {
	Messages(ctx context.Context, roomID string, page, size int) (*types.MessagePage, error)
}

// WindowState is the presentation state of one floating window.
type WindowState struct {
	RoomID      string         `json:"roomId"`
	DisplayName string         `json:"displayName"`
	RoomType    types.RoomType `json:"roomType"`
	Minimized   bool           `json:"minimized"`
}

// Window is a floating conversation window. It keeps a timeline of its
// own, independent of the main view.
type Window struct {
	roomID   string
	identity Identity
	composer *Composer
	logger   zerolog.Logger

	mu       sync.Mutex
	state    WindowState
	timeline *reconcile.Timeline
	stop     func()
}

// State returns the window's presentation state.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Messages returns a copy of the window's timeline.
func (w *Window) Messages() []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeline.Messages()
}

// Send optimistically appends content to this window and publishes it.
func (w *Window) Send(content string) (types.Message, error) {
	return w.composer.Send(w.identity.CurrentUser(), w.roomID, content, w.addProvisional)
}

func (w *Window) addProvisional(m types.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeline.AddProvisional(m)
}

func (w *Window) apply(m types.Message) reconcile.Outcome {
	self := w.identity.CurrentUser().ID
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeline.Apply(m, self)
}

// seed places the first page of history before anything that arrived
// while it was loading.
func (w *Window) seed(history []types.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeline.Prepend(history)
}

// Projection manages the set of open floating windows.
type Projection struct {
	deps     Deps
	history  HistoryFetcher
	apply    func(types.Message) reconcile.Outcome
	pageSize int
	cooldown time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	windows map[string]*Window
	order   []string
}

// NewProjection creates an empty projection. apply is the store's entry
// point for wire messages, used when a window is the first surface to
// subscribe to a room.
func NewProjection(cfg *config.ChatConfig, deps Deps, history HistoryFetcher, apply func(types.Message) reconcile.Outcome) *Projection {
	return &Projection{
		deps:     deps,
		history:  history,
		apply:    apply,
		pageSize: cfg.PageSize,
		cooldown: cfg.SendCooldown,
		logger:   deps.Logger.With().Str("component", "floating-windows").Logger(),
		windows:  make(map[string]*Window),
	}
}

// Open shows a floating window for room. Opening a room that already has
// a window restores it from minimized and returns it unchanged otherwise.
// A failed history load is returned but the window stays open.
func (p *Projection) Open(ctx context.Context, room types.Room) (*Window, error) {
	p.mu.Lock()
	if w, ok := p.windows[room.ID]; ok {
		p.mu.Unlock()
		w.mu.Lock()
		w.state.Minimized = false
		w.mu.Unlock()
		return w, nil
	}

	w := &Window{
		roomID:   room.ID,
		identity: p.deps.Identity,
		composer: NewComposer(p.deps.Clock, p.deps.IDs, p.deps.Publisher, p.cooldown, p.logger),
		logger:   p.logger.With().Str("room_id", room.ID).Logger(),
		state: WindowState{
			RoomID:      room.ID,
			DisplayName: room.DisplayName(p.deps.Identity.CurrentUser().ID),
			RoomType:    room.Type,
		},
		timeline: reconcile.NewTimeline(),
	}
	w.stop = p.deps.Registry.OnEvent(types.EventMessage, func(ev types.Event) {
		if ev.Message == nil || ev.Message.RoomID != room.ID {
			return
		}
		w.apply(*ev.Message)
	})
	p.windows[room.ID] = w
	p.order = append(p.order, room.ID)
	p.mu.Unlock()

	subscribeRoom(p.deps.Registry, p.apply, room.ID)
	p.logger.Info().Str("room_id", room.ID).Msg("window opened")

	page, err := p.history.Messages(ctx, room.ID, 0, p.pageSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load window history")
		return w, fmt.Errorf("surface: load history for window %s: %w", room.ID, err)
	}
	w.seed(reverseMessages(page.Content))
	return w, nil
}

// Close removes the window for roomID and drops its timeline. The room's
// topic stays subscribed.
func (p *Projection) Close(roomID string) bool {
	p.mu.Lock()
	w, ok := p.windows[roomID]
	if ok {
		delete(p.windows, roomID)
		p.order = slices.DeleteFunc(p.order, func(id string) bool { return id == roomID })
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	w.stop()
	p.logger.Info().Str("room_id", roomID).Msg("window closed")
	return true
}

// CloseAll removes every window.
func (p *Projection) CloseAll() {
	for _, s := range p.Windows() {
		p.Close(s.RoomID)
	}
}

// ToggleMinimize flips the minimized flag of roomID's window and returns
// the new value.
func (p *Projection) ToggleMinimize(roomID string) (minimized, ok bool) {
	w, ok := p.Window(roomID)
	if !ok {
		return false, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Minimized = !w.state.Minimized
	return w.state.Minimized, true
}

// Window returns the open window for roomID.
func (p *Projection) Window(roomID string) (*Window, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[roomID]
	return w, ok
}

// Windows returns the state of every open window in the order opened.
func (p *Projection) Windows() []WindowState {
	p.mu.Lock()
	ws := make([]*Window, 0, len(p.order))
	for _, id := range p.order {
		ws = append(ws, p.windows[id])
	}
	p.mu.Unlock()

	out := make([]WindowState, len(ws))
	for i, w := range ws {
		out[i] = w.State()
	}
	return out
}

func reverseMessages(msgs []types.Message) []types.Message {
	out := slices.Clone(msgs)
	slices.Reverse(out)
	return out
}
