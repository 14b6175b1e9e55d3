// Package bridge decouples message persistence from real-time delivery.
// After a message commits, the chat service publishes it on a shared
// channel; every process subscribed to that channel relays it to its own
// connected clients. Delivery is at-most-once per subscriber: a missed
// event is reconciled by the client through the history endpoint.
package bridge

import (
	"context"
	"time"
)

// Event is the payload relayed for each persisted message.
type Event struct {
	RoomID      string    `json:"roomId"`
	MessageID   string    `json:"messageId"`
	SenderEmail string    `json:"senderEmail"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Handler consumes relayed events on the subscriber side.
type Handler func(Event)

// Bridge is the publish/subscribe channel between server instances.
type Bridge interface {
	// Publish sends the event to every subscribed process, including the
	// publisher's own.
	Publish(ctx context.Context, ev Event) error
	// Subscribe starts delivering events to the handler until ctx is
	// cancelled or the bridge is closed. It does not block.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
