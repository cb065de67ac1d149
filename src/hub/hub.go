// Package hub is the topic subscription registry. It guarantees at most one
// live subscription per topic, decodes inbound bodies into typed events and
// fans them out to per-kind broadcasts and per-topic handlers.
package hub

import (
	"sync"

	"github.com/orchestra-mcp/chatsync/src/observer"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
)

// Subscriber opens a stream for a destination. The connection manager
// implements it.
type Subscriber interface {
	Subscribe(destination string) types.Stream
}

// EventBridge mirrors dispatched events to other processes.
// Defined here to avoid circular imports with the bridge package.
type EventBridge interface {
	Publish(ev types.Event) error
	Available() bool
}

// Handler receives the decoded events of one topic.
type Handler = func(types.Event)

// Registry tracks topic subscriptions over a single connection.
type Registry struct {
	subscriber Subscriber

	topics map[string]*topic
	kinds  map[types.EventKind]*observer.List[types.Event]

	bridge EventBridge
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a Registry that opens streams through s.
func New(s Subscriber, logger zerolog.Logger) *Registry {
	return &Registry{
		subscriber: s,
		topics:     make(map[string]*topic),
		kinds: map[types.EventKind]*observer.List[types.Event]{
			types.EventMessage:  {},
			types.EventTyping:   {},
			types.EventPresence: {},
		},
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// SetBridge attaches a cross-process event bridge. When set, events
// dispatched from the wire are also forwarded to other processes.
func (r *Registry) SetBridge(b EventBridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridge = b
}

// BroadcastToLocal delivers an event from the bridge to local observers
// only. It does not re-publish to the bridge, preventing loops.
func (r *Registry) BroadcastToLocal(ev types.Event) {
	r.mu.RLock()
	var h Handler
	if t := r.topics[ev.Topic]; t != nil {
		h = t.handler
	}
	r.mu.RUnlock()
	r.deliver(ev, h)
}

// OnEvent registers fn for every event of the given kind, from any topic.
func (r *Registry) OnEvent(kind types.EventKind, fn func(types.Event)) (cancel func()) {
	l, ok := r.kinds[kind]
	if !ok {
		r.logger.Warn().Stringer("kind", kind).Msg("observer for unknown event kind ignored")
		return func() {}
	}
	return l.Subscribe(func(ev types.Event) {
		defer r.recoverPanic("observer", ev.Topic)
		fn(ev)
	})
}

func (r *Registry) recoverPanic(where, topic string) {
	if p := recover(); p != nil {
		r.logger.Error().
			Interface("panic", p).
			Str("topic", topic).
			Str("in", where).
			Msg("recovered from panic during dispatch")
	}
}
