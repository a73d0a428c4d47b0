// Package pubsub streams events from plugins to the shell. Events are
// published on a plugin's channel name and fanned out to every subscriber
// of that channel.
package pubsub

import (
	"context"
	"errors"
)

// Broker and subscription errors.
var (
	ErrClosed             = errors.New("pubsub: closed")
	ErrNilHandler         = errors.New("pubsub: handler is nil")
	ErrEmptyChannel       = errors.New("pubsub: event channel is empty")
	errSubscriptionClosed = errors.New("pubsub: subscription is closed")
)

// Event is one message streamed to the shell, e.g. a task progress snapshot.
type Event struct {
	Channel   string         `json:"channel"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Handler receives events. Handlers of one subscription run on that
// subscription's workers, never on the publisher's goroutine.
type Handler func(Event)

// PubSub defines the interface for a publish/subscribe system.
type PubSub interface {
	// Publish delivers ev to every subscriber of ev.Channel, blocking while a
	// subscriber's buffer is full until ctx ends.
	Publish(ctx context.Context, ev Event) error

	// TryPublish is Publish without blocking; subscribers that cannot take
	// the event right away miss it.
	TryPublish(ctx context.Context, ev Event) error

	// Subscribe registers handler for events on channel and returns the
	// subscription ID.
	Subscribe(ctx context.Context, channel string, handler Handler, opts ...Option) (string, error)

	// Unsubscribe removes the subscription with the given ID. Unknown IDs
	// are ignored.
	Unsubscribe(ctx context.Context, id string) error

	// Close shuts down the pub/sub system, cleaning up resources.
	Close() error
}

func validate(ev Event) error {
	if ev.Channel == "" {
		return ErrEmptyChannel
	}
	return nil
}
