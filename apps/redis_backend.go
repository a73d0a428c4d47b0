package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// appRecord is the JSON value stored under every app key.
type appRecord struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Options Options `json:"options"`
}

// RedisBackend is a Backend whose instance set lives in Redis, so several
// processes share one view of the configured apps. Apps created through a
// RedisBackend are kept alive by a heartbeat until deleted or Close is called.
//
// LiveInstances reads a local snapshot that a watch goroutine refreshes every
// WatchInterval; it never performs I/O.
type RedisBackend struct {
	opts   *RedisOptions
	client redis.Cmdable

	snapMu   sync.RWMutex
	snapshot map[string]Instance
	lastHash string
	gen      uint64           // bumped by every local Create/Delete
	changes  []snapshotChange // local changes a running Refresh may not have seen

	refreshMu sync.Mutex

	mu      sync.Mutex
	stopChs map[string]chan struct{} // app key -> heartbeat stop channel

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBackend connects to Redis, loads the current instance set and
// starts the watch loop. The loop runs until Close.
func NewRedisBackend(ctx context.Context, opts ...RedisOption) (*RedisBackend, error) {
	options := newRedisOptions(opts...)
	if options.Client == nil {
		return nil, errors.New("redis client is required")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := options.Client.Ping(pingCtx).Err(); err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := &RedisBackend{
		opts:     options,
		client:   options.Client,
		snapshot: make(map[string]Instance),
		stopChs:  make(map[string]chan struct{}),
	}
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	b.cancel = watchCancel
	b.wg.Add(1)
	go b.watch(watchCtx)

	log.Info().
		Str("prefix", options.KeyPrefix).
		Dur("ttl", options.TTL).
		Dur("heartbeat", options.HeartbeatInterval).
		Dur("watch_interval", options.WatchInterval).
		Msg("redis app backend initialized")
	return b, nil
}

func (b *RedisBackend) appKey(name string) string {
	return fmt.Sprintf("%s:%s", b.opts.KeyPrefix, name)
}

// Create stores a new app record and starts its heartbeat. The local snapshot
// is updated immediately.
func (b *RedisBackend) Create(ctx context.Context, name string, opts Options) (Instance, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	rec := appRecord{ID: uuid.NewString(), Name: name, Options: opts}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal app record: %w", err)
	}

	key := b.appKey(name)
	ok, err := b.client.SetNX(ctx, key, value, b.opts.TTL).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to store app record")
		return nil, fmt.Errorf("failed to create app %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppExists, name)
	}

	b.mu.Lock()
	if oldCh, exists := b.stopChs[key]; exists {
		close(oldCh)
	}
	stopCh := make(chan struct{})
	b.stopChs[key] = stopCh
	b.mu.Unlock()

	b.wg.Add(1)
	go b.keepAlive(name, key, stopCh)

	inst := NewInstance(name, opts)
	b.applyLocal(name, inst)

	log.Info().Str("app", name).Str("id", rec.ID).Dur("ttl", b.opts.TTL).Msg("app created")
	return inst, nil
}

// keepAlive periodically renews the app record's TTL. A record that is gone
// was deleted elsewhere (or expired), so the heartbeat stops and the app is
// dropped from the snapshot instead of being written back.
func (b *RedisBackend) keepAlive(name, key string, stopCh chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Debug().Str("key", key).Msg("heartbeat stopped")
			return
		case <-ticker.C:
			renewed, err := b.client.Expire(ctx, key, b.opts.TTL).Result()
			if err != nil {
				log.Error().Err(err).Str("key", key).Msg("heartbeat failed to renew ttl")
				continue
			}
			if renewed {
				log.Trace().Str("key", key).Msg("heartbeat ttl renewed")
				continue
			}

			log.Warn().Str("key", key).Msg("app record is gone, stopping heartbeat")
			b.mu.Lock()
			owned := b.stopChs[key] == stopCh
			if owned {
				delete(b.stopChs, key)
			}
			b.mu.Unlock()
			if owned {
				b.applyLocal(name, nil)
			}
			return
		}
	}
}

// Delete removes the app record and stops its heartbeat.
func (b *RedisBackend) Delete(ctx context.Context, name string) error {
	key := b.appKey(name)

	b.mu.Lock()
	if stopCh, exists := b.stopChs[key]; exists {
		close(stopCh)
		delete(b.stopChs, key)
	}
	b.mu.Unlock()

	deleted, err := b.client.Del(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error().Err(err).Str("key", key).Msg("failed to delete app record")
		return fmt.Errorf("failed to delete app %s: %w", name, err)
	}

	b.applyLocal(name, nil)

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	log.Info().Str("app", name).Msg("app deleted")
	return nil
}

// LiveInstances implements Backend.
func (b *RedisBackend) LiveInstances() map[string]Instance {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return maps.Clone(b.snapshot)
}

// Refresh reloads the snapshot from Redis. Local Create/Delete calls made
// while the scan was running are applied over its result.
func (b *RedisBackend) Refresh(ctx context.Context) error {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.snapMu.RLock()
	since := b.gen
	b.snapMu.RUnlock()

	keys, err := b.scanKeys(ctx, b.opts.KeyPrefix+":*")
	if err != nil {
		log.Error().Err(err).Str("prefix", b.opts.KeyPrefix).Msg("failed to scan app keys")
		return fmt.Errorf("failed to scan app keys: %w", err)
	}

	var values []any
	if len(keys) > 0 {
		values, err = b.client.MGet(ctx, keys...).Result()
		if err != nil {
			log.Error().Err(err).Int("key_count", len(keys)).Msg("failed to mget app records")
			return fmt.Errorf("failed to load app records: %w", err)
		}
	}

	next := decodeRecords(keys, values)

	b.snapMu.Lock()
	next, b.changes = mergeChanges(next, b.changes, since)
	hash := hashNames(next)
	changed := hash != b.lastHash
	b.snapshot = next
	b.lastHash = hash
	b.snapMu.Unlock()

	if changed {
		log.Debug().Int("count", len(next)).Str("apps", hash).Msg("live app set changed")
	}
	return nil
}

// snapshotChange is a local Create (inst set) or Delete (inst nil).
type snapshotChange struct {
	gen  uint64
	name string
	inst Instance
}

// applyLocal records a local change in the snapshot.
func (b *RedisBackend) applyLocal(name string, inst Instance) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	b.gen++
	if inst == nil {
		delete(b.snapshot, name)
	} else {
		b.snapshot[name] = inst
	}
	b.changes = append(b.changes, snapshotChange{gen: b.gen, name: name, inst: inst})
}

// mergeChanges applies the changes newer than since to next, in order, and
// returns them as the changes still to carry. Older changes are already
// visible in a scan started after them.
func mergeChanges(next map[string]Instance, changes []snapshotChange, since uint64) (map[string]Instance, []snapshotChange) {
	var pending []snapshotChange
	for _, c := range changes {
		if c.gen <= since {
			continue
		}
		if c.inst == nil {
			delete(next, c.name)
		} else {
			next[c.name] = c.inst
		}
		pending = append(pending, c)
	}
	return next, pending
}

func (b *RedisBackend) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (b *RedisBackend) watch(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("app watcher stopping")
			return
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
				// keep the previous snapshot until the next successful poll
				log.Warn().Err(err).Msg("app watcher refresh failed")
			}
		}
	}
}

// Close stops the watch loop and all heartbeats. App records are left to
// expire; the Redis client is not closed.
func (b *RedisBackend) Close() error {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	for key, ch := range b.stopChs {
		close(ch)
		delete(b.stopChs, key)
	}
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("redis app backend closed")
	return nil
}

// decodeRecords turns an MGET result into a snapshot. Missing or malformed
// values are skipped.
func decodeRecords(keys []string, values []any) map[string]Instance {
	out := make(map[string]Instance, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// nil when the key expired between SCAN and MGET
			continue
		}
		var rec appRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Name == "" {
			key := ""
			if i < len(keys) {
				key = keys[i]
			}
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed app record")
			continue
		}
		out[rec.Name] = NewInstance(rec.Name, rec.Options)
	}
	return out
}

func hashNames(instances map[string]Instance) string {
	if len(instances) == 0 {
		return "empty"
	}
	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ";")
}

var _ Backend = (*RedisBackend)(nil)
