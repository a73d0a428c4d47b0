package core

import (
	"context"

	"github.com/toolink/bridge/apps"
)

// AppStore is implemented by backends the shell may create and delete apps
// through.
type AppStore interface {
	CreateApp(ctx context.Context, name string, opts apps.Options) (apps.Instance, error)
	DeleteApp(ctx context.Context, name string) error
}

type memoryStore struct{ b *apps.MemoryBackend }

func (s memoryStore) CreateApp(_ context.Context, name string, opts apps.Options) (apps.Instance, error) {
	return s.b.Create(name, opts)
}

func (s memoryStore) DeleteApp(_ context.Context, name string) error {
	return s.b.Delete(name)
}

type redisStore struct{ b *apps.RedisBackend }

func (s redisStore) CreateApp(ctx context.Context, name string, opts apps.Options) (apps.Instance, error) {
	return s.b.Create(ctx, name, opts)
}

func (s redisStore) DeleteApp(ctx context.Context, name string) error {
	return s.b.Delete(ctx, name)
}

// storeFor returns the AppStore for backend, if it can create apps.
func storeFor(backend apps.Backend) (AppStore, bool) {
	switch b := backend.(type) {
	case AppStore:
		return b, true
	case *apps.MemoryBackend:
		return memoryStore{b}, true
	case *apps.RedisBackend:
		return redisStore{b}, true
	}
	return nil, false
}
