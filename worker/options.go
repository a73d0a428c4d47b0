package worker

type poolOptions struct {
	concurrency int // number of goroutines running tasks
	bufferSize  int // tasks queued before Submit blocks
}

func defaultPoolOptions() poolOptions {
	return poolOptions{
		concurrency: 4,
		bufferSize:  128,
	}
}

// Option configures a Pool.
type Option func(*poolOptions)

// WithConcurrency sets the number of goroutines running tasks. Defaults to 4.
func WithConcurrency(n int) Option {
	return func(o *poolOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBufferSize sets how many tasks may wait in the queue before Submit
// blocks. Defaults to 128.
func WithBufferSize(size int) Option {
	return func(o *poolOptions) {
		if size >= 0 {
			o.bufferSize = size
		}
	}
}
