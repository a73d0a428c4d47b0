package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/fault"
	"github.com/toolink/bridge/meta"
	"github.com/toolink/bridge/result"
)

// Router errors.
var (
	ErrChannelTaken    = errors.New("channel: handler already registered")
	ErrChannelNotFound = errors.New("channel: no handler registered")
	ErrRouterClosed    = errors.New("channel: router is closed")
	ErrIncompleteCalls = errors.New("channel: calls never completed")
)

// Router delivers calls to the handler registered for their channel. Each
// dispatched call gets a result.Sink whose callbacks run on the router's
// executor, and stays pending until that sink is completed.
type Router struct {
	executor result.Executor
	strict   bool

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	pendingMu sync.Mutex
	pending   map[string]pendingCall
}

// pendingCall is a dispatched call and the cancel func of its context.
type pendingCall struct {
	info   meta.Call
	cancel context.CancelFunc
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithExecutor sets the executor result callbacks are delivered on.
func WithExecutor(e result.Executor) RouterOption {
	return func(r *Router) {
		if e != nil {
			r.executor = e
		}
	}
}

// WithStrictCompletion makes completing a call twice panic.
func WithStrictCompletion(strict bool) RouterOption {
	return func(r *Router) {
		r.strict = strict
	}
}

// NewRouter creates an empty Router delivering callbacks inline unless an
// executor is configured.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		executor: result.Inline,
		handlers: make(map[string]Handler),
		pending:  make(map[string]pendingCall),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for channel.
func (r *Router) Handle(channel string, h Handler) error {
	if channel == "" || h == nil {
		return fmt.Errorf("channel: invalid registration for %q", channel)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[channel]; exists {
		return fmt.Errorf("%w: %s", ErrChannelTaken, channel)
	}
	r.handlers[channel] = h
	log.Debug().Str("channel", channel).Msg("channel handler registered")
	return nil
}

// Remove unregisters the handler for channel.
func (r *Router) Remove(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[channel]; !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	delete(r.handlers, channel)
	return nil
}

// Channels returns the registered channel names, sorted.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch hands call to its channel's handler. Exactly one of onSuccess or
// onError is eventually invoked on the router's executor, unless the handler
// never completes the call. A call without an ID is assigned one; the ID is
// returned. Calls on unknown channels complete as not implemented.
//
// The handler's context is cancelled once the call completes, or earlier by
// CancelPending or Close.
func (r *Router) Dispatch(ctx context.Context, call *Call, onSuccess func(any), onError func(*fault.Error)) (string, error) {
	if call == nil {
		return "", errors.New("channel: nil call")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	r.mu.RLock()
	closed := r.closed
	h, ok := r.handlers[call.Channel]
	r.mu.RUnlock()
	if closed {
		return call.ID, ErrRouterClosed
	}

	info := meta.Call{
		ID:      call.ID,
		Channel: call.Channel,
		Method:  call.Method,
		App:     call.AppName(),
		Started: time.Now(),
	}
	ctx, cancel := context.WithCancel(ctx)
	r.pendingMu.Lock()
	r.pending[call.ID] = pendingCall{info: info, cancel: cancel}
	r.pendingMu.Unlock()

	sink := result.New(onSuccess, onError,
		result.WithExecutor(r.executor),
		result.WithStrict(r.strict),
		result.WithName(call.label()),
		result.WithObserver(func(o result.Outcome) { r.finish(info, o) }),
	)
	ctx = meta.WithCall(ctx, info)

	if !ok {
		logger := meta.Logger(ctx)
		logger.Warn().Msg("call on unregistered channel")
		_ = sink.NotImplemented(call.Method)
		return call.ID, nil
	}

	r.invoke(ctx, h, call, sink)
	return call.ID, nil
}

func (r *Router) invoke(ctx context.Context, h Handler, call *Call, sink *result.Sink) {
	defer func() {
		if rec := recover(); rec != nil {
			logger := meta.Logger(ctx)
			logger.Error().Interface("panic", rec).Msg("channel handler panicked")
			if !sink.Completed() {
				_ = sink.FailWith(fault.Normalize("", fmt.Sprintf("handler for %s panicked: %v", call.Channel, rec), nil, nil))
			}
		}
	}()
	h.HandleCall(ctx, call, sink)
}

func (r *Router) finish(info meta.Call, o result.Outcome) {
	r.pendingMu.Lock()
	if p, ok := r.pending[info.ID]; ok {
		p.cancel()
		delete(r.pending, info.ID)
	}
	r.pendingMu.Unlock()

	ev := log.Debug().
		Str("call_id", info.ID).
		Str("channel", info.Channel).
		Str("method", info.Method).
		Dur("duration", info.Elapsed()).
		Bool("success", o.Succeeded())
	if o.Err != nil {
		ev = ev.Str("code", o.Err.Code)
	}
	ev.Msg("call completed")
}

// Pending returns the number of dispatched calls not yet completed.
func (r *Router) Pending() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// PendingCalls returns the dispatched calls not yet completed, oldest first.
func (r *Router) PendingCalls() []meta.Call {
	r.pendingMu.Lock()
	out := make([]meta.Call, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.info)
	}
	r.pendingMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// CancelPending cancels the context of every pending call. The calls stay
// pending until their handlers complete them. It returns how many were
// cancelled.
func (r *Router) CancelPending() int {
	r.pendingMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.pending))
	for _, p := range r.pending {
		cancels = append(cancels, p.cancel)
	}
	r.pendingMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		log.Info().Int("count", len(cancels)).Msg("cancelled in-flight calls")
	}
	return len(cancels)
}

// Close stops accepting calls and cancels the ones in flight. Every call
// still pending afterwards is logged as never completed and reported
// through ErrIncompleteCalls.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	r.closed = true
	r.mu.Unlock()

	r.CancelPending()

	pending := r.PendingCalls()
	for _, c := range pending {
		log.Error().
			Str("call_id", c.ID).
			Str("channel", c.Channel).
			Str("method", c.Method).
			Dur("age", c.Elapsed()).
			Msg("call was never completed")
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d pending", ErrIncompleteCalls, len(pending))
	}
	log.Info().Msg("channel router closed")
	return nil
}
