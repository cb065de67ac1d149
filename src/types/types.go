package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType is the kind of content a chat message carries.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// UnmarshalJSON accepts the known types case-insensitively. A missing or
// empty type decodes as TEXT, matching the server default.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("message type: %w", err)
	}
	if raw == "" {
		*t = MessageText
		return nil
	}
	v := MessageType(strings.ToUpper(raw))
	if !v.Valid() {
		return fmt.Errorf("message type: unknown value %q", raw)
	}
	*t = v
	return nil
}

// RoomType distinguishes one-to-one rooms from group rooms.
type RoomType string

const (
	RoomPrivate RoomType = "PRIVATE"
	RoomGroup   RoomType = "GROUP"
)

// User is the signed-in identity or any other chat participant.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// Session is the credential and identity the client runs as.
type Session struct {
	Token string
	User  User
}

// Member is a participant of a room.
type Member struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// Room is a conversation. Identity is immutable; LastMessage is the
// preview updated whenever a message arrives for the room.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        RoomType  `json:"type"`
	Members     []Member  `json:"members"`
	LastMessage *Message  `json:"lastMessage"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UnmarshalJSON decodes a room, tolerating zone-less timestamps.
func (r *Room) UnmarshalJSON(data []byte) error {
	type alias Room
	aux := struct {
		*alias
		CreatedAt string `json:"createdAt"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := ParseTimestamp(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("room %s: %w", r.ID, err)
	}
	r.CreatedAt = ts
	return nil
}

// DisplayName returns the group name, or for private rooms the full name of
// the member that is not selfID.
func (r Room) DisplayName(selfID string) string {
	if r.Type == RoomGroup {
		if r.Name == "" {
			return "Group Chat"
		}
		return r.Name
	}
	for _, m := range r.Members {
		if m.UserID != selfID {
			return m.FullName
		}
	}
	return "Private Chat"
}

// Message is a single chat message, provisional or server-confirmed.
type Message struct {
	ID             string      `json:"id"`
	RoomID         string      `json:"roomId"`
	SenderID       string      `json:"senderId"`
	SenderUsername string      `json:"senderUsername"`
	SenderFullName string      `json:"senderFullName"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// UnmarshalJSON decodes a message, tolerating zone-less timestamps and a
// missing message type.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		CreatedAt string `json:"createdAt"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.MessageType == "" {
		m.MessageType = MessageText
	}
	ts, err := ParseTimestamp(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.CreatedAt = ts
	return nil
}

// MessagePage is one page of room history, newest first.
type MessagePage struct {
	Content       []Message `json:"content"`
	Number        int       `json:"number"`
	Size          int       `json:"size"`
	TotalPages    int       `json:"totalPages"`
	TotalElements int       `json:"totalElements"`
	Last          bool      `json:"last"`
}

// SendCommand is the payload published to a room's send destination.
type SendCommand struct {
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
}

// TypingSignal is an ephemeral "user is typing" notice for a room.
type TypingSignal struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	FullName string    `json:"fullName"`
	RoomID   string    `json:"roomId,omitempty"`
	At       time.Time `json:"-"`
}

// PresenceEntry is one user in a presence snapshot. Snapshots list online
// users; an entry only counts as offline when the payload says so.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Online   bool   `json:"online"`
}

// UnmarshalJSON defaults Online to true when the field is absent.
func (p *PresenceEntry) UnmarshalJSON(data []byte) error {
	type alias PresenceEntry
	aux := struct {
		*alias
		Online *bool `json:"online"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Online = aux.Online == nil || *aux.Online
	return nil
}

// UserSearchResult is a user returned by the search endpoint.
type UserSearchResult struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Online   bool   `json:"online"`
}

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Conn abstracts a message-framed WebSocket connection for testability.
// Each call reads or writes exactly one text message.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Stream is a live subscription to one destination. Messages delivers raw
// bodies until the stream is unsubscribed or the connection is torn down.
type Stream interface {
	Destination() string
	Messages() <-chan []byte
	Unsubscribe()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Zone-less values are taken
// as UTC. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
