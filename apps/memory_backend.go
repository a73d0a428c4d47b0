package apps

import (
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryBackend is an in-process Backend. It stands in for the backend SDK's
// app bookkeeping in tests and embedded deployments.
type MemoryBackend struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{instances: make(map[string]Instance)}
}

// Create configures a new instance under the backend-native name.
func (b *MemoryBackend) Create(name string, opts Options) (Instance, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.instances[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAppExists, name)
	}
	inst := NewInstance(name, opts)
	b.instances[name] = inst
	log.Debug().Str("app", name).Msg("app instance created")
	return inst, nil
}

// Delete tears down the instance with the backend-native name.
func (b *MemoryBackend) Delete(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.instances[name]; !exists {
		return fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	delete(b.instances, name)
	log.Debug().Str("app", name).Msg("app instance deleted")
	return nil
}

// LiveInstances implements Backend.
func (b *MemoryBackend) LiveInstances() map[string]Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.instances)
}

var _ Backend = (*MemoryBackend)(nil)
