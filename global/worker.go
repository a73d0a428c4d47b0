package global

import (
	"sync"
	"sync/atomic"

	"github.com/toolink/bridge/worker"
)

var (
	globalPool     atomic.Pointer[worker.Pool]
	globalPoolOnce sync.Once
)

// SetPool sets the global background pool.
func SetPool(p *worker.Pool) {
	globalPool.Store(p)
}

// Pool returns the global background pool, creating a default one on first
// use if none was set.
func Pool() *worker.Pool {
	globalPoolOnce.Do(func() {
		globalPool.CompareAndSwap(nil, worker.NewPool("global"))
	})
	return globalPool.Load()
}
