package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Subscription represents a single subscription to a channel.
type Subscription struct {
	ID      string
	Channel string
	options *SubscriptionOptions
	handler Handler

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup // handler goroutines
}

// newSubscription creates a subscription and starts its handler goroutines.
func newSubscription(channel string, handler Handler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	options := DefaultSubscriptionOptions()
	options.Apply(opts...)

	s := &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		options: options,
		handler: handler,
		queue:   make(chan Event, options.BufferSize),
	}
	s.wg.Add(options.Concurrency)
	for i := 0; i < options.Concurrency; i++ {
		go s.runWorker()
	}
	return s, nil
}

func (s *Subscription) runWorker() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.invoke(ev)
	}
}

func (s *Subscription) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("subscription_id", s.ID).
				Str("channel", s.Channel).
				Str("method", ev.Method).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.handler(ev)
}

// deliver queues ev for the handler. With try set, a full queue drops ev.
func (s *Subscription) deliver(ctx context.Context, ev Event, try bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSubscriptionClosed
	}

	if try {
		select {
		case s.queue <- ev:
		default:
			log.Warn().Str("subscription_id", s.ID).Str("channel", s.Channel).Msg("subscription queue full, dropping event (tryPublish)")
		}
		return nil
	}

	select {
	case s.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	log.Debug().Str("subscription_id", s.ID).Str("channel", s.Channel).Msg("subscription closed")
	return nil
}
