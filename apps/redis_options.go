package apps

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions holds configuration for RedisBackend.
type RedisOptions struct {
	// Redis client instance (required).
	Client redis.Cmdable
	// Prefix for all app keys stored in Redis (default: "bridge:apps").
	KeyPrefix string
	// Time-to-live of an app record (default: 30s).
	TTL time.Duration
	// Interval for heartbeats renewing the TTL of apps created by this process (default: TTL / 3).
	// Zero derives it from TTL.
	HeartbeatInterval time.Duration
	// Interval at which the local snapshot of live apps is refreshed (default: 5s).
	WatchInterval time.Duration
}

// RedisOption defines a function type for setting RedisOptions.
type RedisOption func(*RedisOptions)

const (
	DefaultKeyPrefix        = "bridge:apps"
	DefaultTTL              = 30 * time.Second
	DefaultWatchInterval    = 5 * time.Second
	DefaultHeartbeatDivisor = 3
)

func newRedisOptions(opts ...RedisOption) *RedisOptions {
	options := &RedisOptions{
		KeyPrefix:     DefaultKeyPrefix,
		TTL:           DefaultTTL,
		WatchInterval: DefaultWatchInterval,
	}
	for _, o := range opts {
		o(options)
	}

	if options.HeartbeatInterval == 0 {
		options.HeartbeatInterval = max(options.TTL/DefaultHeartbeatDivisor, time.Second)
	} else if options.HeartbeatInterval >= options.TTL {
		configured := options.HeartbeatInterval
		options.HeartbeatInterval = options.TTL / DefaultHeartbeatDivisor
		if options.HeartbeatInterval <= 0 {
			options.HeartbeatInterval = time.Second
		}
		log.Warn().
			Dur("configured_heartbeat", configured).
			Dur("ttl", options.TTL).
			Dur("adjusted_heartbeat", options.HeartbeatInterval).
			Msg("heartbeat interval out of range for ttl, adjusted")
	}
	return options
}

// WithRedisClient sets the Redis client.
func WithRedisClient(client redis.Cmdable) RedisOption {
	return func(o *RedisOptions) {
		o.Client = client
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOptions) {
		if prefix != "" {
			o.KeyPrefix = prefix
		}
	}
}

// WithTTL sets the app record TTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOptions) {
		if ttl > 0 {
			o.TTL = ttl
		} else {
			log.Warn().Dur("invalid_ttl", ttl).Msg("ignoring non-positive ttl option")
		}
	}
}

// WithHeartbeatInterval sets the heartbeat interval.
func WithHeartbeatInterval(interval time.Duration) RedisOption {
	return func(o *RedisOptions) {
		if interval > 0 {
			o.HeartbeatInterval = interval
		} else {
			log.Warn().Dur("invalid_heartbeat", interval).Msg("ignoring non-positive heartbeat interval option")
		}
	}
}

// WithWatchInterval sets the snapshot refresh interval.
func WithWatchInterval(interval time.Duration) RedisOption {
	return func(o *RedisOptions) {
		if interval > 0 {
			o.WatchInterval = interval
		} else {
			log.Warn().Dur("invalid_watch_interval", interval).Msg("ignoring non-positive watch interval option")
		}
	}
}
