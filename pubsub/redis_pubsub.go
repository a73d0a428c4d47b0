package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisPrefix prefixes the Redis channel of every event channel.
const DefaultRedisPrefix = "bridge:events"

type redisSubscription struct {
	*Subscription
	ps   *redis.PubSub
	done chan struct{} // closed when the listener exits
}

// RedisPubSub implements PubSub on Redis PUBLISH/SUBSCRIBE, so events
// published by any process reach subscribers in every process. Events are
// JSON encoded; numeric arguments arrive as float64.
type RedisPubSub struct {
	client redis.UniversalClient
	prefix string

	mu     sync.RWMutex
	closed bool
	subs   map[string]*redisSubscription // subID -> redisSubscription
}

// NewRedisPubSub creates a Redis-based PubSub. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisPubSub(client redis.UniversalClient, prefix string) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("pubsub: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPubSub{
		client: client,
		prefix: prefix,
		subs:   make(map[string]*redisSubscription),
	}, nil
}

func (r *RedisPubSub) redisChannel(channel string) string {
	return r.prefix + ":" + channel
}

// Publish implements PubSub.
func (r *RedisPubSub) Publish(ctx context.Context, ev Event) error {
	if err := validate(ev); err != nil {
		return err
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("channel", ev.Channel).Msg("failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.redisChannel(ev.Channel), payload).Err(); err != nil {
		log.Error().Err(err).Str("channel", ev.Channel).Msg("failed to publish event to redis")
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// TryPublish implements PubSub. Redis PUBLISH never waits for subscribers,
// so it behaves like Publish.
func (r *RedisPubSub) TryPublish(ctx context.Context, ev Event) error {
	return r.Publish(ctx, ev)
}

// Subscribe implements PubSub. It returns once Redis has confirmed the
// subscription.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string, handler Handler, opts ...Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	base, err := newSubscription(channel, handler, opts...)
	if err != nil {
		return "", err
	}

	key := r.redisChannel(channel)
	ps := r.client.Subscribe(ctx, key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = base.Close()
		log.Error().Err(err).Str("redis_channel", key).Msg("failed to subscribe to redis channel")
		return "", fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	sub := &redisSubscription{Subscription: base, ps: ps, done: make(chan struct{})}
	r.subs[sub.ID] = sub
	go sub.listen()

	log.Debug().Str("subscription_id", sub.ID).Str("redis_channel", key).Msg("new redis subscription created")
	return sub.ID, nil
}

func (rs *redisSubscription) listen() {
	defer close(rs.done)
	for msg := range rs.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Error().Err(err).Str("subscription_id", rs.ID).Str("redis_channel", msg.Channel).Msg("failed to unmarshal event from redis")
			continue
		}
		if err := rs.deliver(context.Background(), ev, false); err != nil && !errors.Is(err, errSubscriptionClosed) {
			log.Error().Err(err).Str("subscription_id", rs.ID).Msg("failed to deliver event from redis")
		}
	}
}

// stop closes the Redis subscription, waits for the listener and then for
// the queued events.
func (rs *redisSubscription) stop() {
	if err := rs.ps.Close(); err != nil {
		log.Warn().Err(err).Str("subscription_id", rs.ID).Msg("error closing redis subscription")
	}
	<-rs.done
	_ = rs.Subscription.Close()
}

// Unsubscribe implements PubSub.
func (r *RedisPubSub) Unsubscribe(_ context.Context, id string) error {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.subs, id)
	r.mu.Unlock()

	sub.stop()
	log.Debug().Str("subscription_id", id).Str("channel", sub.Channel).Msg("redis subscription removed")
	return nil
}

// Close stops every subscription. The Redis client is not closed.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*redisSubscription)
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		go func(s *redisSubscription) {
			defer wg.Done()
			s.stop()
		}(sub)
	}
	wg.Wait()

	log.Info().Msg("redis pubsub closed")
	return nil
}

var _ PubSub = (*RedisPubSub)(nil)
