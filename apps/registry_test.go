package apps

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolink/bridge/appname"
)

// countingBackend serves a fixed instance set and counts queries.
type countingBackend struct {
	instances map[string]Instance
	calls     atomic.Int32
}

func (b *countingBackend) LiveInstances() map[string]Instance {
	b.calls.Add(1)
	return b.instances
}

func TestRegistry_LookupTranslatesDefault(t *testing.T) {
	def := NewInstance(appname.DefaultBackendName, Options{ProjectID: "p"})
	backend := &countingBackend{instances: map[string]Instance{appname.DefaultBackendName: def}}
	registry := NewRegistry(backend)

	inst, ok := registry.Lookup(appname.DefaultShellName)
	require.True(t, ok, "default app should resolve through the shell sentinel")
	assert.Same(t, def, inst)

	// the backend sentinel is not a shell name for the default app
	_, ok = registry.Lookup("[default]")
	assert.False(t, ok)
}

func TestRegistry_LookupFixtures(t *testing.T) {
	fixtures := []struct {
		name      string
		instances []string
		lookup    string
		wantFound bool
		wantName  string
	}{
		{"empty set", nil, "secondary", false, ""},
		{"empty set default", nil, appname.DefaultShellName, false, ""},
		{"named hit", []string{"secondary"}, "secondary", true, "secondary"},
		{"named miss", []string{"secondary"}, "tertiary", false, ""},
		{"default hit", []string{appname.DefaultBackendName, "other"}, appname.DefaultShellName, true, appname.DefaultBackendName},
		{"shell sentinel stored literally", []string{appname.DefaultShellName}, appname.DefaultShellName, false, ""},
		{"case sensitive", []string{"Secondary"}, "secondary", false, ""},
		{"no trimming", []string{"secondary"}, " secondary", false, ""},
	}

	for _, tc := range fixtures {
		t.Run(tc.name, func(t *testing.T) {
			set := make(map[string]Instance)
			for _, n := range tc.instances {
				set[n] = NewInstance(n, Options{})
			}
			registry := NewRegistry(&countingBackend{instances: set})

			inst, ok := registry.Lookup(tc.lookup)
			assert.Equal(t, tc.wantFound, ok)
			if tc.wantFound {
				require.NotNil(t, inst)
				assert.Equal(t, tc.wantName, inst.Name())
			} else {
				assert.Nil(t, inst)
			}
		})
	}
}

func TestRegistry_LookupDoesNotCache(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewRegistry(backend)

	_, ok := registry.Lookup("late")
	assert.False(t, ok)

	_, err := backend.Create("late", Options{})
	require.NoError(t, err)
	_, ok = registry.Lookup("late")
	assert.True(t, ok, "lookup should observe an instance created after a miss")

	require.NoError(t, backend.Delete("late"))
	_, ok = registry.Lookup("late")
	assert.False(t, ok, "lookup should observe an instance deleted after a hit")
}

func TestRegistry_QueriesBackendEveryCall(t *testing.T) {
	backend := &countingBackend{instances: map[string]Instance{"a": NewInstance("a", Options{})}}
	registry := NewRegistry(backend)

	for range 5 {
		_, _ = registry.Lookup("a")
	}
	assert.Equal(t, int32(5), backend.calls.Load())
}

func TestRegistry_Resolve(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewRegistry(backend)

	_, err := registry.Resolve("missing")
	require.ErrorIs(t, err, ErrAppNotFound)
	assert.Contains(t, err.Error(), "missing")

	created, err := backend.Create(appname.DefaultBackendName, Options{})
	require.NoError(t, err)
	inst, err := registry.Resolve(appname.DefaultShellName)
	require.NoError(t, err)
	assert.Same(t, created, inst)
}

func TestRegistry_NilBackend(t *testing.T) {
	registry := NewRegistry(nil)
	_, ok := registry.Lookup("anything")
	assert.False(t, ok)
	assert.Empty(t, registry.All())
}

func TestRegistry_AllSorted(t *testing.T) {
	backend := NewMemoryBackend()
	for _, n := range []string{"zeta", appname.DefaultBackendName, "alpha"} {
		_, err := backend.Create(n, Options{})
		require.NoError(t, err)
	}

	all := NewRegistry(backend).All()
	require.Len(t, all, 3)
	assert.Equal(t, appname.DefaultBackendName, all[0].Name())
	assert.Equal(t, "alpha", all[1].Name())
	assert.Equal(t, "zeta", all[2].Name())
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewRegistry(backend)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("app-%d", id)
			_, err := backend.Create(name, Options{})
			assert.NoError(t, err)
			_ = backend.Delete(name)
		}(i)
		go func(id int) {
			defer wg.Done()
			for range 50 {
				_, _ = registry.Lookup(fmt.Sprintf("app-%d", id))
				_ = registry.All()
			}
		}(i)
	}
	wg.Wait()
}
