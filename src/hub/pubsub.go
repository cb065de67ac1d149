package hub

import (
	"github.com/orchestra-mcp/chatsync/src/types"
)

// EnsureSubscribed subscribes to topic and records handler for it. Calls
// for a topic that is already subscribed return false; their handler is
// only kept when the topic has none yet. handler may be nil when only the
// per-kind broadcast matters.
func (r *Registry) EnsureSubscribed(name string, handler Handler) bool {
	kind, roomID, ok := types.ParseTopic(name)
	if !ok {
		r.logger.Warn().Str("topic", name).Msg("refusing to subscribe to unknown topic")
		return false
	}

	r.mu.Lock()
	if existing, exists := r.topics[name]; exists {
		switch {
		case handler == nil:
		case existing.handler == nil:
			existing.handler = handler
			r.logger.Debug().Str("topic", name).Msg("handler attached to existing subscription")
		default:
			r.logger.Debug().Str("topic", name).Msg("topic already has a handler, new one ignored")
		}
		r.mu.Unlock()
		return false
	}
	t := &topic{
		name:    name,
		kind:    kind,
		roomID:  roomID,
		handler: handler,
	}
	t.stream = r.subscriber.Subscribe(name)
	r.topics[name] = t
	r.mu.Unlock()

	go t.pump(r)

	r.logger.Debug().Str("topic", name).Stringer("kind", kind).Msg("subscribed")
	return true
}

// Unsubscribe ends the subscription for topic. It returns false when the
// topic was not subscribed.
func (r *Registry) Unsubscribe(name string) bool {
	r.mu.Lock()
	t, ok := r.topics[name]
	if ok {
		delete(r.topics, name)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	t.stream.Unsubscribe()
	r.logger.Debug().Str("topic", name).Msg("unsubscribed")
	return true
}

// UnsubscribeAll ends every subscription.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	all := make([]*topic, 0, len(r.topics))
	for _, t := range r.topics {
		all = append(all, t)
	}
	r.topics = make(map[string]*topic)
	r.mu.Unlock()

	for _, t := range all {
		t.stream.Unsubscribe()
	}
	if len(all) > 0 {
		r.logger.Info().Int("topics", len(all)).Msg("unsubscribed from all topics")
	}
}

// forget drops t from the registry if it is still the live entry, so a
// stream closed by the connection can be subscribed again.
func (r *Registry) forget(t *topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[t.name] == t {
		delete(r.topics, t.name)
	}
}

// handlerOf returns t's current handler.
func (r *Registry) handlerOf(t *topic) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return t.handler
}

func (r *Registry) dispatch(t *topic, body []byte) {
	ev, strayRoom, err := t.decode(body)
	if err != nil {
		r.logger.Warn().Err(err).Str("topic", t.name).Msg("dropping malformed payload")
		return
	}
	if strayRoom != "" {
		r.logger.Warn().
			Str("topic", t.name).
			Str("payload_room_id", strayRoom).
			Msg("message names another room, keeping topic room")
	}
	r.publishToBridge(ev)
	r.deliver(ev, r.handlerOf(t))
}

// deliver fans ev out to the per-kind broadcast, then to the topic handler.
func (r *Registry) deliver(ev types.Event, handler Handler) {
	if l, ok := r.kinds[ev.Kind]; ok {
		l.Notify(ev)
	}
	if handler == nil {
		return
	}
	defer r.recoverPanic("handler", ev.Topic)
	handler(ev)
}

// publishToBridge forwards an event to the bridge if one is attached.
func (r *Registry) publishToBridge(ev types.Event) {
	r.mu.RLock()
	b := r.bridge
	r.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(ev); err != nil {
		r.logger.Error().Err(err).Str("topic", ev.Topic).Msg("bridge publish failed")
	}
}
