package store

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/chatsync/src/reconcile"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// LoadMessages fetches one page of history for roomID. Page 0 replaces
// the room's timeline; later pages are older history and are prepended.
// On failure the timeline is left unchanged.
func (s *Store) LoadMessages(ctx context.Context, roomID string, page int) error {
	page = max(page, 0)
	resp, err := s.fetcher.Messages(ctx, roomID, page, s.cfg.PageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Int("page", page).Msg("failed to load messages")
		return fmt.Errorf("store: load messages for room %s: %w", roomID, err)
	}

	msgs := reverse(resp.Content)
	for i := range msgs {
		if msgs[i].RoomID == "" {
			msgs[i].RoomID = roomID
		}
	}

	s.mu.Lock()
	tl := s.timeline(roomID)
	if page == 0 {
		tl.Reset(msgs)
	} else {
		tl.Prepend(msgs)
	}
	s.mu.Unlock()

	s.logger.Debug().Str("room_id", roomID).Int("page", page).Int("messages", len(msgs)).Msg("messages loaded")
	s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	return nil
}

// ApplyIncoming merges a message received from the wire. It is the only
// path by which server messages enter a timeline. Unless the message is a
// duplicate, the room preview is updated and the sender stops typing.
func (s *Store) ApplyIncoming(m types.Message) reconcile.Outcome {
	s.mu.Lock()
	outcome := s.timeline(m.RoomID).Apply(m, s.selfID)
	if outcome == reconcile.Duplicate {
		s.mu.Unlock()
		s.logger.Debug().Str("message_id", m.ID).Str("room_id", m.RoomID).Msg("duplicate message discarded")
		return outcome
	}
	changes := []Change{{Kind: ChangeMessages, RoomID: m.RoomID}}
	if s.updatePreview(m) {
		changes = append(changes, Change{Kind: ChangeRooms, RoomID: m.RoomID})
	}
	if s.removeTyping(m.RoomID, m.SenderID) {
		changes = append(changes, Change{Kind: ChangeTyping, RoomID: m.RoomID})
	}
	s.mu.Unlock()

	s.logger.Debug().
		Str("message_id", m.ID).
		Str("room_id", m.RoomID).
		Stringer("outcome", outcome).
		Msg("message applied")
	s.notify(changes...)
	return outcome
}

// AddProvisional appends an optimistic entry to the room's timeline.
func (s *Store) AddProvisional(m types.Message) {
	s.mu.Lock()
	s.timeline(m.RoomID).AddProvisional(m)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: m.RoomID})
}

// Messages returns a copy of the room's timeline.
func (s *Store) Messages(roomID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[roomID]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// Focus makes roomID the focused room. An empty id clears the focus.
func (s *Store) Focus(roomID string) {
	s.mu.Lock()
	if s.focused == roomID {
		s.mu.Unlock()
		return
	}
	s.focused = roomID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeFocus, RoomID: roomID})
}

// Focused returns the focused room id, or "" when none is.
func (s *Store) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// FocusedMessages returns the focused room's timeline.
func (s *Store) FocusedMessages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focused == "" {
		return nil
	}
	tl, ok := s.timelines[s.focused]
	if !ok {
		return nil
	}
	return tl.Messages()
}
