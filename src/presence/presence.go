// Package presence tracks which users are online from full snapshots
// broadcast on the presence topic.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/orchestra-mcp/chatsync/src/observer"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// Registry is the subset of the topic registry the tracker needs.
type Registry interface {
	EnsureSubscribed(topic string, handler func(types.Event)) bool
}

// Source lists online users over REST, for seeding before the first
// snapshot arrives.
type Source interface {
	Online(ctx context.Context) ([]types.PresenceEntry, error)
}

// Tracker holds the latest presence snapshot.
type Tracker struct {
	mu      sync.RWMutex
	online  map[string]types.PresenceEntry
	changes observer.List[[]types.PresenceEntry]
	logger  zerolog.Logger
}

// New creates an empty Tracker.
func New(logger zerolog.Logger) *Tracker {
	return &Tracker{
		online: make(map[string]types.PresenceEntry),
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// Start subscribes the tracker to the presence topic.
func (t *Tracker) Start(r Registry) {
	r.EnsureSubscribed(types.PresenceTopic, func(ev types.Event) {
		if ev.Kind == types.EventPresence {
			t.Replace(ev.Presence)
		}
	})
}

// Seed loads the online list from src. Failures are logged and leave the
// current set unchanged.
func (t *Tracker) Seed(ctx context.Context, src Source) error {
	entries, err := src.Online(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to seed online users")
		return err
	}
	t.Replace(entries)
	return nil
}

// Replace swaps the whole online set for the given snapshot. Entries
// marked offline are not kept.
func (t *Tracker) Replace(snapshot []types.PresenceEntry) {
	next := make(map[string]types.PresenceEntry, len(snapshot))
	for _, e := range snapshot {
		if e.UserID == "" || !e.Online {
			continue
		}
		next[e.UserID] = e
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()

	t.logger.Debug().Int("online", len(next)).Msg("presence snapshot applied")
	t.changes.Notify(t.Online())
}

// IsOnline reports whether userID is in the latest snapshot.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// AnyOnline reports whether any of userIDs other than selfID is online.
func (t *Tracker) AnyOnline(selfID string, userIDs ...string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range userIDs {
		if id == selfID {
			continue
		}
		if _, ok := t.online[id]; ok {
			return true
		}
	}
	return false
}

// Online returns the online users sorted by user id.
func (t *Tracker) Online() []types.PresenceEntry {
	t.mu.RLock()
	out := make([]types.PresenceEntry, 0, len(t.online))
	for _, e := range t.online {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Subscribe registers fn for every applied snapshot.
func (t *Tracker) Subscribe(fn func([]types.PresenceEntry)) (cancel func()) {
	return t.changes.Subscribe(fn)
}
