package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/fault"
	"github.com/toolink/bridge/meta"
	"github.com/toolink/bridge/result"
)

// MethodFunc does the work of one method. A returned error is normalized
// with the mux's error code.
type MethodFunc func(ctx context.Context, call *Call) (any, error)

// Submitter runs tasks in the background. *worker.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task func()) error
}

// MethodMux is a Handler dispatching on the method name. Methods run on the
// submitter so the caller's goroutine is never blocked on backend work.
type MethodMux struct {
	code      string
	submitter Submitter

	mu      sync.RWMutex
	methods map[string]MethodFunc
}

// NewMethodMux creates a mux whose failures carry code (e.g. "storage").
// An empty code lets the native error decide. A nil submitter runs methods
// on the calling goroutine.
func NewMethodMux(code string, submitter Submitter) *MethodMux {
	return &MethodMux{
		code:      code,
		submitter: submitter,
		methods:   make(map[string]MethodFunc),
	}
}

// Handle registers fn for method, replacing any previous registration.
func (m *MethodMux) Handle(method string, fn MethodFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.methods[method]; exists {
		log.Warn().Str("method", method).Msg("replacing method handler")
	}
	m.methods[method] = fn
}

// Methods returns the number of registered methods.
func (m *MethodMux) Methods() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.methods)
}

// HandleCall implements Handler.
func (m *MethodMux) HandleCall(ctx context.Context, call *Call, sink *result.Sink) {
	m.mu.RLock()
	fn, ok := m.methods[call.Method]
	m.mu.RUnlock()
	if !ok {
		_ = sink.NotImplemented(call.Method)
		return
	}

	task := func() { m.run(ctx, fn, call, sink) }
	if m.submitter == nil {
		task()
		return
	}
	if err := m.submitter.Submit(ctx, task); err != nil {
		logger := meta.Logger(ctx)
		logger.Error().Err(err).Msg("failed to schedule method")
		_ = sink.FailWith(fault.Normalize(m.code, "", nil, err))
	}
}

func (m *MethodMux) run(ctx context.Context, fn MethodFunc, call *Call, sink *result.Sink) {
	defer func() {
		if r := recover(); r != nil {
			logger := meta.Logger(ctx)
			logger.Error().Interface("panic", r).Msg("method panicked")
			_ = sink.FailWith(fault.Normalize(m.code, fmt.Sprintf("method %s panicked: %v", call.Method, r), nil, nil))
		}
	}()

	value, err := fn(ctx, call)
	if err != nil {
		_ = sink.FailWith(fault.From(m.code, err))
		return
	}
	_ = sink.Succeed(value)
}
