package connection

import (
	"sync"

	"github.com/orchestra-mcp/chatsync/src/types"
)

// Subscription is a lazily activated stream of message bodies for one
// destination. It implements types.Stream.
type Subscription struct {
	id          string
	destination string
	manager     *Manager

	ch        chan []byte
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ types.Stream = (*Subscription)(nil)

func newSubscription(m *Manager, id, destination string, buffer int) *Subscription {
	return &Subscription{
		id:          id,
		destination: destination,
		manager:     m,
		ch:          make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the STOMP subscription id.
func (s *Subscription) ID() string { return s.id }

// Destination returns the subscribed destination.
func (s *Subscription) Destination() string { return s.destination }

// Messages delivers raw message bodies. The channel is closed when the
// subscription ends.
func (s *Subscription) Messages() <-chan []byte { return s.ch }

// Unsubscribe ends the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.manager.unsubscribe(s)
}

// deliver blocks until the consumer takes body or the subscription ends.
func (s *Subscription) deliver(body []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- body:
	case <-s.done:
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
