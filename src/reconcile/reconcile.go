// Package reconcile merges server-confirmed messages into a room timeline
// that may hold optimistic, locally inserted entries.
package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// ProvisionalPrefix marks ids assigned locally before the server echo.
const ProvisionalPrefix = "temp-"

// IsProvisional reports whether id was assigned by an IDGenerator.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IDGenerator hands out provisional ids of the form temp-<unix-millis>.
// Ids are strictly increasing within a generator even when the clock
// does not advance between calls.
type IDGenerator struct {
	clock clock.Clock
	mu    sync.Mutex
	last  int64
}

// NewIDGenerator creates a generator reading time from c.
func NewIDGenerator(c clock.Clock) *IDGenerator {
	return &IDGenerator{clock: c}
}

// Next returns a fresh provisional id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.clock.Now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return ProvisionalPrefix + strconv.FormatInt(ms, 10)
}

// Outcome describes what Apply did with an inbound message.
type Outcome int

const (
	Duplicate Outcome = iota + 1
	Replaced
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Timeline is the ordered message sequence of one room as seen by one
// surface. It is not safe for concurrent use; owners guard it with their
// own lock.
type Timeline struct {
	msgs []types.Message
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Apply merges a server-confirmed message. selfID is the signed-in user.
//
// A message whose id is already present is discarded. The user's own echo
// replaces the oldest provisional entry in its slot. Another sender's
// message replaces the oldest provisional entry with identical content and
// type. Anything else is appended.
func (t *Timeline) Apply(m types.Message, selfID string) Outcome {
	if t.indexOf(m.ID) >= 0 {
		return Duplicate
	}

	own := selfID != "" && m.SenderID == selfID
	for i := range t.msgs {
		p := &t.msgs[i]
		if !IsProvisional(p.ID) {
			continue
		}
		if own || (p.Content == m.Content && p.MessageType == m.MessageType) {
			t.msgs[i] = m
			return Replaced
		}
	}

	t.msgs = append(t.msgs, m)
	return Appended
}

// AddProvisional appends an optimistic entry. Its id must come from an
// IDGenerator.
func (t *Timeline) AddProvisional(m types.Message) {
	t.msgs = append(t.msgs, m)
}

// Reset replaces the whole sequence with msgs, in chronological order.
// Provisional entries are dropped.
func (t *Timeline) Reset(msgs []types.Message) {
	t.msgs = t.msgs[:0]
	t.msgs = append(t.msgs, dedupe(msgs)...)
}

// Prepend inserts older history before the current entries, skipping ids
// already present. It returns how many entries were inserted.
func (t *Timeline) Prepend(older []types.Message) int {
	fresh := make([]types.Message, 0, len(older))
	for _, m := range dedupe(older) {
		if t.indexOf(m.ID) < 0 {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return 0
	}
	t.msgs = append(fresh, t.msgs...)
	return len(fresh)
}

// Messages returns a copy of the sequence.
func (t *Timeline) Messages() []types.Message {
	out := make([]types.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Provisional returns the entries still awaiting their echo, oldest first.
func (t *Timeline) Provisional() []types.Message {
	var out []types.Message
	for _, m := range t.msgs {
		if IsProvisional(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.msgs) }

// Last returns the newest entry.
func (t *Timeline) Last() (types.Message, bool) {
	if len(t.msgs) == 0 {
		return types.Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

func (t *Timeline) indexOf(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func dedupe(msgs []types.Message) []types.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
