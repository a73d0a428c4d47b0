package pubsub

// SubscriptionOptions holds configuration for a subscription.
type SubscriptionOptions struct {
	// Concurrency is the number of goroutines running the handler.
	// Defaults to 1, which preserves publish order.
	Concurrency int
	// BufferSize is the number of events queued for the handler before
	// Publish blocks (and TryPublish drops). Defaults to 64.
	BufferSize int
}

// Option is a function type used to configure subscriptions.
type Option func(*SubscriptionOptions)

// DefaultSubscriptionOptions returns the default options.
func DefaultSubscriptionOptions() *SubscriptionOptions {
	return &SubscriptionOptions{
		Concurrency: 1,
		BufferSize:  64,
	}
}

// WithConcurrency sets the number of handler goroutines.
func WithConcurrency(n int) Option {
	return func(o *SubscriptionOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithBufferSize sets the subscription's queue length.
func WithBufferSize(size int) Option {
	return func(o *SubscriptionOptions) {
		if size >= 0 {
			o.BufferSize = size
		}
	}
}

// Apply applies the options to the SubscriptionOptions struct.
func (o *SubscriptionOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
