package pubsub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Broker acts as a wrapper around a PubSub implementation.
// It allows easy switching between different PubSub backends (memory, redis).
type Broker struct {
	impl PubSub
	mu   sync.RWMutex
}

// BrokerOption defines an option for configuring the Broker.
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	redisClient redis.UniversalClient
	redisPrefix string
}

// WithRedisClient selects the Redis backend.
func WithRedisClient(client redis.UniversalClient) BrokerOption {
	return func(o *brokerOptions) {
		o.redisClient = client
	}
}

// WithRedisPrefix sets the Redis channel prefix. Defaults to DefaultRedisPrefix.
func WithRedisPrefix(prefix string) BrokerOption {
	return func(o *brokerOptions) {
		o.redisPrefix = prefix
	}
}

// New creates a new Broker instance.
// By default, it uses the MemoryPubSub.
// Use options like WithRedisClient to select the Redis backend.
func New(opts ...BrokerOption) (*Broker, error) {
	options := &brokerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.redisClient != nil {
		log.Info().Msg("initializing broker with redis pubsub backend")
		ps, err := NewRedisPubSub(options.redisClient, options.redisPrefix)
		if err != nil {
			return nil, err
		}
		return &Broker{impl: ps}, nil
	}

	log.Info().Msg("initializing broker with memory pubsub backend")
	return &Broker{impl: NewMemoryPubSub()}, nil
}

func (b *Broker) backend() (PubSub, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return nil, ErrClosed
	}
	return b.impl, nil
}

// Publish delegates the call to the underlying PubSub implementation.
func (b *Broker) Publish(ctx context.Context, ev Event) error {
	impl, err := b.backend()
	if err != nil {
		return err
	}
	return impl.Publish(ctx, ev)
}

// TryPublish delegates the call to the underlying PubSub implementation.
func (b *Broker) TryPublish(ctx context.Context, ev Event) error {
	impl, err := b.backend()
	if err != nil {
		return err
	}
	return impl.TryPublish(ctx, ev)
}

// Subscribe delegates the call to the underlying PubSub implementation.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler Handler, opts ...Option) (string, error) {
	impl, err := b.backend()
	if err != nil {
		return "", err
	}
	return impl.Subscribe(ctx, channel, handler, opts...)
}

// Unsubscribe delegates the call to the underlying PubSub implementation.
func (b *Broker) Unsubscribe(ctx context.Context, id string) error {
	impl, err := b.backend()
	if err != nil {
		return err
	}
	return impl.Unsubscribe(ctx, id)
}

// Close closes the underlying PubSub implementation.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.impl == nil {
		return nil
	}
	err := b.impl.Close()
	b.impl = nil
	return err
}

// Emitter publishes events on a single channel.
func (b *Broker) Emitter(channel string) *Emitter {
	return &Emitter{ps: b, channel: channel}
}

// Emitter is what a plugin holds to stream events on its channel.
type Emitter struct {
	ps      PubSub
	channel string
}

// NewEmitter returns an Emitter publishing on channel through ps.
func NewEmitter(ps PubSub, channel string) *Emitter {
	return &Emitter{ps: ps, channel: channel}
}

// Channel returns the emitter's channel.
func (e *Emitter) Channel() string {
	return e.channel
}

// Emit publishes one event.
func (e *Emitter) Emit(ctx context.Context, method string, args map[string]any) error {
	return e.ps.Publish(ctx, Event{Channel: e.channel, Method: method, Arguments: args})
}

var _ PubSub = (*Broker)(nil)
