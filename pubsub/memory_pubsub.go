package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryPubSub implements PubSub within one process.
type MemoryPubSub struct {
	mu       sync.RWMutex
	closed   bool
	channels map[string]map[string]*Subscription // channel -> subID -> Subscription
	subs     map[string]*Subscription            // subID -> Subscription (for fast unsubscribe)
}

// NewMemoryPubSub creates a new in-memory PubSub instance.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		channels: make(map[string]map[string]*Subscription),
		subs:     make(map[string]*Subscription),
	}
}

// Publish implements PubSub.
func (m *MemoryPubSub) Publish(ctx context.Context, ev Event) error {
	return m.publish(ctx, ev, false)
}

// TryPublish implements PubSub.
func (m *MemoryPubSub) TryPublish(ctx context.Context, ev Event) error {
	return m.publish(ctx, ev, true)
}

func (m *MemoryPubSub) publish(ctx context.Context, ev Event, try bool) error {
	if err := validate(ev); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := m.subscriptionsLocked(ev.Channel)
	m.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		err := s.deliver(ctx, ev, try)
		if err == nil || errors.Is(err, errSubscriptionClosed) {
			continue
		}
		log.Error().Err(err).Str("subscription_id", s.ID).Str("channel", ev.Channel).Msg("failed to deliver event")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

// Subscribe implements PubSub.
func (m *MemoryPubSub) Subscribe(_ context.Context, channel string, handler Handler, opts ...Option) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}

	sub, err := newSubscription(channel, handler, opts...)
	if err != nil {
		return "", err
	}

	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]*Subscription)
	}
	m.channels[channel][sub.ID] = sub
	m.subs[sub.ID] = sub

	log.Debug().Str("subscription_id", sub.ID).Str("channel", channel).Msg("new subscription created")
	return sub.ID, nil
}

// Unsubscribe implements PubSub.
func (m *MemoryPubSub) Unsubscribe(_ context.Context, id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, id)
	if channelSubs, ok := m.channels[sub.Channel]; ok {
		delete(channelSubs, id)
		if len(channelSubs) == 0 {
			delete(m.channels, sub.Channel)
		}
	}
	m.mu.Unlock()

	if err := sub.Close(); err != nil {
		log.Error().Err(err).Str("subscription_id", id).Msg("error closing subscription during unsubscribe")
	}
	log.Debug().Str("subscription_id", id).Str("channel", sub.Channel).Msg("subscription removed")
	return nil
}

// Close closes every subscription after its queued events are handled.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.channels = make(map[string]map[string]*Subscription)
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		go func(s *Subscription) {
			defer wg.Done()
			_ = s.Close()
		}(sub)
	}
	wg.Wait()

	log.Info().Msg("memory pubsub closed")
	return nil
}

// subscriptionsLocked returns a copy of the channel's subscriptions.
// Requires RLock to be held.
func (m *MemoryPubSub) subscriptionsLocked(channel string) []*Subscription {
	channelSubs, ok := m.channels[channel]
	if !ok {
		return nil
	}
	subs := make([]*Subscription, 0, len(channelSubs))
	for _, sub := range channelSubs {
		subs = append(subs, sub)
	}
	return subs
}

var _ PubSub = (*MemoryPubSub)(nil)
