package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/appname"
	"github.com/toolink/bridge/apps"
	"github.com/toolink/bridge/config"
	"github.com/toolink/bridge/logging"
	"github.com/toolink/bridge/pubsub"
)

// FromConfig builds a Runtime as described by cfg. The log section is
// applied to the global logger first. With Redis configured the
// app set and events are shared through Redis; otherwise both stay in
// memory. Apps listed in cfg are created (keyed by shell name) unless they
// already exist. Extra opts are applied after the configured ones.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log.Level, nil, cfg.Log.Pretty); err != nil {
		return nil, err
	}

	base := []Option{
		WithWorkers(cfg.Workers.Concurrency, cfg.Workers.QueueSize),
		WithMainQueueSize(cfg.Workers.MainQueueSize),
		WithStrictCompletion(cfg.StrictCompletion),
	}

	if !cfg.Redis.Enabled() {
		backend := apps.NewMemoryBackend()
		if err := seedApps(ctx, memoryStore{backend}, cfg.Apps); err != nil {
			return nil, err
		}
		return New(backend, append(base, opts...)...)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	backend, err := apps.NewRedisBackend(ctx,
		apps.WithRedisClient(client),
		apps.WithKeyPrefix(cfg.Redis.AppPrefix),
		apps.WithTTL(cfg.Redis.AppTTL),
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	broker, err := pubsub.New(pubsub.WithRedisClient(client), pubsub.WithRedisPrefix(cfg.Redis.EventPrefix))
	if err != nil {
		_ = backend.Close()
		_ = client.Close()
		return nil, err
	}

	rt, err := New(backend, append(append(base, WithBroker(broker)), opts...)...)
	if err != nil {
		_ = broker.Close()
		_ = backend.Close()
		_ = client.Close()
		return nil, err
	}
	// the runtime closes these after its own pools, in reverse order
	rt.closers = append([]func(context.Context) error{
		func(context.Context) error { return client.Close() },
		func(context.Context) error { return backend.Close() },
		func(context.Context) error { return broker.Close() },
	}, rt.closers...)

	if err := seedApps(ctx, redisStore{backend}, cfg.Apps); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("core runtime using redis")
	return rt, nil
}

func seedApps(ctx context.Context, store AppStore, seeds map[string]apps.Options) error {
	for shellName, opts := range seeds {
		_, err := store.CreateApp(ctx, appname.ToBackend(shellName), opts)
		if errors.Is(err, apps.ErrAppExists) {
			log.Debug().Str("app", shellName).Msg("configured app already exists")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create configured app %s: %w", shellName, err)
		}
	}
	return nil
}
