// Package global holds the process-wide default plugin manager, event broker
// and background pool, for plugins that register themselves at init time.
package global

import (
	"sync/atomic"

	"github.com/toolink/bridge/extension"
)

func defaultManager() *atomic.Value {
	v := &atomic.Value{}
	v.Store(extension.New())
	return v
}

var globalManager = defaultManager()

// SetManager sets the global plugin manager.
func SetManager(m *extension.Manager) {
	globalManager.Store(m)
}

// Manager retrieves the current global plugin manager.
func Manager() *extension.Manager {
	return globalManager.Load().(*extension.Manager)
}
