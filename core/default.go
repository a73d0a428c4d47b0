package core

import (
	"github.com/toolink/bridge/apps"
	"github.com/toolink/bridge/global"
)

// NewDefault builds a Runtime on the process-wide manager, broker and
// background pool from package global, so plugins registered there at init
// time are served. The shared resources are not closed by the runtime.
func NewDefault(backend apps.Backend, opts ...Option) (*Runtime, error) {
	base := []Option{
		WithManager(global.Manager()),
		WithBroker(global.Broker()),
		WithBackgroundPool(global.Pool()),
	}
	return New(backend, append(base, opts...)...)
}
