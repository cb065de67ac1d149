package hub

import "sort"

// Topics returns the subscribed topic names, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribed reports whether topic has a live subscription.
func (r *Registry) Subscribed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[name]
	return ok
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
