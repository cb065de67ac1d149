package types

import (
	"fmt"
	"strings"
)

// Destinations used on the wire. These must match the server exactly.
const (
	PresenceTopic = "/topic/presence"

	roomTopicPrefix     = "/topic/room/"
	typingTopicSuffix   = "/typing"
	sendCommandPrefix   = "/app/chat.send/"
	typingCommandPrefix = "/app/chat.typing/"
)

// RoomTopic is the topic carrying confirmed messages for a room.
func RoomTopic(roomID string) string { return roomTopicPrefix + roomID }

// TypingTopic is the topic carrying typing signals for a room.
func TypingTopic(roomID string) string { return roomTopicPrefix + roomID + typingTopicSuffix }

// SendDestination is where send commands for a room are published.
func SendDestination(roomID string) string { return sendCommandPrefix + roomID }

// TypingDestination is where typing commands for a room are published.
func TypingDestination(roomID string) string { return typingCommandPrefix + roomID }

// EventKind tags the variant held by an Event.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventTyping
	EventPresence
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventTyping:
		return "typing"
	case EventPresence:
		return "presence"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a decoded inbound payload. Exactly one of Message, Typing or
// Presence is set, according to Kind.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Topic    string          `json:"topic"`
	RoomID   string          `json:"roomId,omitempty"`
	Message  *Message        `json:"message,omitempty"`
	Typing   *TypingSignal   `json:"typing,omitempty"`
	Presence []PresenceEntry `json:"presence,omitempty"`
}

// ParseTopic classifies a subscription topic and extracts its room id.
func ParseTopic(topic string) (kind EventKind, roomID string, ok bool) {
	if topic == PresenceTopic {
		return EventPresence, "", true
	}
	rest, found := strings.CutPrefix(topic, roomTopicPrefix)
	if !found || rest == "" {
		return 0, "", false
	}
	if id, isTyping := strings.CutSuffix(rest, typingTopicSuffix); isTyping {
		if id == "" || strings.Contains(id, "/") {
			return 0, "", false
		}
		return EventTyping, id, true
	}
	if strings.Contains(rest, "/") {
		return 0, "", false
	}
	return EventMessage, rest, true
}
