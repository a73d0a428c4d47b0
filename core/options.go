package core

import (
	"github.com/toolink/bridge/extension"
	"github.com/toolink/bridge/pubsub"
	"github.com/toolink/bridge/worker"
)

type options struct {
	concurrency   int
	queueSize     int
	mainQueueSize int
	strict        bool

	manager    *extension.Manager
	broker     *pubsub.Broker
	background *worker.Pool
	main       *worker.Pool
	recorder   extension.LibraryRecorder
	corePlugin bool
}

func defaultOptions() *options {
	return &options{
		concurrency:   4,
		queueSize:     128,
		mainQueueSize: 256,
		corePlugin:    true,
	}
}

// Option configures a Runtime.
type Option func(*options)

// WithWorkers sizes the background pool plugins run their work on.
func WithWorkers(concurrency, queueSize int) Option {
	return func(o *options) {
		if concurrency > 0 {
			o.concurrency = concurrency
		}
		if queueSize >= 0 {
			o.queueSize = queueSize
		}
	}
}

// WithMainQueueSize sizes the queue of the serial main executor results are
// delivered on.
func WithMainQueueSize(size int) Option {
	return func(o *options) {
		if size >= 0 {
			o.mainQueueSize = size
		}
	}
}

// WithStrictCompletion makes a second completion of any call panic.
func WithStrictCompletion(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithManager uses m instead of a fresh extension manager.
func WithManager(m *extension.Manager) Option {
	return func(o *options) {
		o.manager = m
	}
}

// WithBroker uses b for plugin events instead of a fresh memory broker.
// The runtime does not close a supplied broker.
func WithBroker(b *pubsub.Broker) Option {
	return func(o *options) {
		o.broker = b
	}
}

// WithBackgroundPool runs plugin work on p. The runtime does not shut down
// a supplied pool.
func WithBackgroundPool(p *worker.Pool) Option {
	return func(o *options) {
		o.background = p
	}
}

// WithMainExecutor delivers results on p, which should be serial. The
// runtime does not shut down a supplied pool.
func WithMainExecutor(p *worker.Pool) Option {
	return func(o *options) {
		o.main = p
	}
}

// WithLibraryRecorder forwards every registered plugin's library to r.
func WithLibraryRecorder(r extension.LibraryRecorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithoutCorePlugin skips registering the built-in core plugin.
func WithoutCorePlugin() Option {
	return func(o *options) {
		o.corePlugin = false
	}
}
