package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// LoadRooms replaces the room list with the server's. On failure the list
// is left unchanged and the error is returned for information.
func (s *Store) LoadRooms(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)

	rooms, err := s.fetcher.Rooms(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load rooms")
		return fmt.Errorf("store: load rooms: %w", err)
	}

	s.mu.Lock()
	s.rooms = slices.Clone(rooms)
	s.mu.Unlock()

	s.logger.Debug().Int("rooms", len(rooms)).Msg("rooms loaded")
	s.notify(Change{Kind: ChangeRooms})
	return nil
}

// Rooms returns a copy of the room list.
func (s *Store) Rooms() []types.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// Room returns the room with id.
func (s *Store) Room(id string) (types.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return types.Room{}, false
}

// PrependRoom puts a newly created room at the top of the list. A room
// already listed is moved to the top instead.
func (s *Store) PrependRoom(room types.Room) {
	s.mu.Lock()
	s.rooms = slices.DeleteFunc(s.rooms, func(r types.Room) bool { return r.ID == room.ID })
	s.rooms = append([]types.Room{room}, s.rooms...)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms, RoomID: room.ID})
}

// updatePreview sets the room's last message. Callers hold s.mu.
func (s *Store) updatePreview(m types.Message) bool {
	for i := range s.rooms {
		if s.rooms[i].ID == m.RoomID {
			preview := m
			s.rooms[i].LastMessage = &preview
			return true
		}
	}
	return false
}
