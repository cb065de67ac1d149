package store

import (
	"github.com/orchestra-mcp/chatsync/src/types"
)

// ApplyTyping records that a user is typing in a room. Signals from the
// signed-in user are ignored. A newer signal from the same user replaces
// the old one and restarts its expiry.
func (s *Store) ApplyTyping(sig types.TypingSignal) {
	if sig.UserID == "" || sig.RoomID == "" {
		return
	}

	s.mu.Lock()
	if s.selfID != "" && sig.UserID == s.selfID {
		s.mu.Unlock()
		return
	}
	sig.At = s.clock.Now()

	var entry *typingEntry
	for _, e := range s.typing[sig.RoomID] {
		if e.signal.UserID == sig.UserID {
			entry = e
			break
		}
	}
	if entry != nil {
		entry.signal = sig
		entry.timer.Reset(s.cfg.TypingTTL)
	} else {
		entry = &typingEntry{signal: sig}
		roomID, userID := sig.RoomID, sig.UserID
		entry.timer = s.clock.AfterFunc(s.cfg.TypingTTL, func() { s.expireTyping(roomID, userID, entry) })
		s.typing[sig.RoomID] = append(s.typing[sig.RoomID], entry)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeTyping, RoomID: sig.RoomID})
}

func (s *Store) expireTyping(roomID, userID string, entry *typingEntry) {
	s.mu.Lock()
	entries := s.typing[roomID]
	removed := false
	for i, e := range entries {
		if e == entry {
			s.typing[roomID] = append(entries[:i:i], entries[i+1:]...)
			removed = true
			break
		}
	}
	if len(s.typing[roomID]) == 0 {
		delete(s.typing, roomID)
	}
	s.mu.Unlock()

	if removed {
		s.logger.Debug().Str("room_id", roomID).Str("user_id", userID).Msg("typing expired")
		s.notify(Change{Kind: ChangeTyping, RoomID: roomID})
	}
}

// removeTyping drops userID's signal for roomID. Callers hold s.mu.
func (s *Store) removeTyping(roomID, userID string) bool {
	entries := s.typing[roomID]
	for i, e := range entries {
		if e.signal.UserID != userID {
			continue
		}
		e.timer.Stop()
		s.typing[roomID] = append(entries[:i:i], entries[i+1:]...)
		if len(s.typing[roomID]) == 0 {
			delete(s.typing, roomID)
		}
		return true
	}
	return false
}

// TypingUsers returns who is typing in roomID, oldest first.
func (s *Store) TypingUsers(roomID string) []types.TypingSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.typing[roomID]
	out := make([]types.TypingSignal, len(entries))
	for i, e := range entries {
		out[i] = e.signal
	}
	return out
}

// ClearTyping forgets every typing signal for roomID.
func (s *Store) ClearTyping(roomID string) {
	s.mu.Lock()
	entries := s.typing[roomID]
	for _, e := range entries {
		e.timer.Stop()
	}
	delete(s.typing, roomID)
	s.mu.Unlock()

	if len(entries) > 0 {
		s.notify(Change{Kind: ChangeTyping, RoomID: roomID})
	}
}
