// Package broadcast defines the cross-tab session event channel. The
// transport (in-process fan-out, websocket hub, storage events behind a
// bridge) is swappable behind the Bus interface; delivery is
// fire-and-forget with no ordering guarantee relative to local state
// changes, so consumers must ignore messages carrying their own tab ID.
package broadcast

import (
	"context"
	"time"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventLogin     EventType = "login"
	EventLogout    EventType = "logout"
	EventLogoutAll EventType = "logoutAll"
)

// Message is the JSON payload carried on the channel.
type Message struct {
	Type      EventType `json:"type"`
	TabID     string    `json:"tabId"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler consumes delivered messages. Handlers run on delivery goroutines
// and must not block.
type Handler func(Message)

// Bus is the cross-tab fan-out channel.
type Bus interface {
	// Publish delivers the message to every subscriber, including any on
	// the publishing tab. Best-effort: no acknowledgement, no retry.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers a handler and returns a function that removes it.
	Subscribe(handler Handler) (func(), error)

	// Close tears the bus down; subsequent publishes fail.
	Close() error
}
