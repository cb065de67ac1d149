// Package bridge mirrors dispatched chat events between client processes
// through Redis pub/sub, so a second process signed in on the same host
// (a CLI next to a desktop client, say) sees the same realtime stream.
package bridge

import "github.com/orchestra-mcp/chatsync/src/types"

// Bridge defines the interface for cross-process event mirroring.
type Bridge interface {
	// Publish sends an event to all other processes via the bridge.
	Publish(ev types.Event) error

	// Start begins listening for events from other processes.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the topic registry to receive events
// from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(ev types.Event)
}
