package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// topic is one live subscription and the goroutine draining it.
type topic struct {
	name    string
	kind    types.EventKind
	roomID  string
	stream  types.Stream
	handler Handler
}

// pump reads bodies until the stream closes, dispatching each in order.
func (t *topic) pump(r *Registry) {
	defer r.forget(t)

	for body := range t.stream.Messages() {
		r.dispatch(t, body)
	}
}

// decode turns a raw body into an Event of the topic's kind. Messages are
// always filed under the topic's room; strayRoom reports the room a
// payload named when it disagreed.
func (t *topic) decode(body []byte) (ev types.Event, strayRoom string, err error) {
	ev = types.Event{Kind: t.kind, Topic: t.name, RoomID: t.roomID}
	switch t.kind {
	case types.EventMessage:
		var m types.Message
		if err := json.Unmarshal(body, &m); err != nil {
			return ev, "", fmt.Errorf("decode message: %w", err)
		}
		if m.ID == "" {
			return ev, "", errors.New("decode message: missing id")
		}
		if m.RoomID != "" && m.RoomID != t.roomID {
			strayRoom = m.RoomID
		}
		m.RoomID = t.roomID
		ev.Message = &m
	case types.EventTyping:
		var s types.TypingSignal
		if err := json.Unmarshal(body, &s); err != nil {
			return ev, "", fmt.Errorf("decode typing: %w", err)
		}
		if s.UserID == "" {
			return ev, "", errors.New("decode typing: missing userId")
		}
		s.RoomID = t.roomID
		ev.Typing = &s
	case types.EventPresence:
		var entries []types.PresenceEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return ev, "", fmt.Errorf("decode presence: %w", err)
		}
		if entries == nil {
			entries = []types.PresenceEntry{}
		}
		ev.Presence = entries
	default:
		return ev, "", fmt.Errorf("unsupported event kind %s", t.kind)
	}
	return ev, strayRoom, nil
}
