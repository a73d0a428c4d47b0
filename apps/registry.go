package apps

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/appname"
)

// Registry looks up live backend instances by their shell name.
// It is safe for concurrent use as long as the Backend is.
type Registry struct {
	backend Backend
}

// NewRegistry creates a Registry reading from backend.
func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend}
}

// Lookup translates shellName to the backend's naming convention and returns
// the live instance with that exact name. The backend is queried on every
// call; ok is false when no such instance exists right now.
func (r *Registry) Lookup(shellName string) (inst Instance, ok bool) {
	if r.backend == nil {
		log.Error().Str("app", shellName).Msg("app lookup on registry without backend")
		return nil, false
	}

	backendName := appname.ToBackend(shellName)
	inst, ok = r.backend.LiveInstances()[backendName]
	if !ok || inst == nil {
		log.Debug().Str("app", shellName).Str("backend_name", backendName).Msg("no live app instance")
		return nil, false
	}
	return inst, true
}

// Resolve is like Lookup but reports absence as ErrAppNotFound, for callers
// that treat a missing app as a configuration error.
func (r *Registry) Resolve(shellName string) (Instance, error) {
	inst, ok := r.Lookup(shellName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, shellName)
	}
	return inst, nil
}

// All returns every live instance sorted by backend name.
func (r *Registry) All() []Instance {
	if r.backend == nil {
		return nil
	}
	live := r.backend.LiveInstances()
	out := make([]Instance, 0, len(live))
	for _, inst := range live {
		if inst != nil {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
