// Package result delivers the outcome of an asynchronous call back to the
// shell exactly once.
package result

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/fault"
)

// ErrAlreadyCompleted is returned when a sink is completed a second time.
var ErrAlreadyCompleted = errors.New("result: sink already completed")

// Executor runs a function on the execution context the shell expects
// responses on.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks on the completing goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Outcome is the result of a call: a value on success or a normalized error.
type Outcome struct {
	Value any
	Err   *fault.Error
}

// Succeeded reports whether the call succeeded.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

const (
	statePending uint32 = iota
	stateSucceeded
	stateFailed
)

func stateName(s uint32) string {
	switch s {
	case stateSucceeded:
		return "success"
	case stateFailed:
		return "error"
	default:
		return "pending"
	}
}

// Sink is bound to one in-flight call. The first of Succeed, Fail, FailWith
// or NotImplemented wins; every later attempt is rejected with
// ErrAlreadyCompleted and logged, and panics when the sink is strict.
// A Sink may be completed from any goroutine.
type Sink struct {
	name      string
	onSuccess func(any)
	onError   func(*fault.Error)
	executor  Executor
	strict    bool
	observers []func(Outcome)

	state atomic.Uint32
}

// Option configures a Sink.
type Option func(*Sink)

// WithExecutor sets where callbacks run. Defaults to Inline.
func WithExecutor(e Executor) Option {
	return func(s *Sink) {
		if e != nil {
			s.executor = e
		}
	}
}

// WithStrict makes a second completion attempt panic.
func WithStrict(strict bool) Option {
	return func(s *Sink) {
		s.strict = strict
	}
}

// WithName sets the label used in diagnostics. Defaults to a random UUID.
func WithName(name string) Option {
	return func(s *Sink) {
		if name != "" {
			s.name = name
		}
	}
}

// WithObserver registers fn to be told about the outcome. Observers run on
// the completing goroutine, before the callback is handed to the executor.
func WithObserver(fn func(Outcome)) Option {
	return func(s *Sink) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// New creates a pending Sink with the call site's callbacks.
func New(onSuccess func(any), onError func(*fault.Error), opts ...Option) *Sink {
	s := &Sink{
		name:      uuid.NewString(),
		onSuccess: onSuccess,
		onError:   onError,
		executor:  Inline,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onSuccess == nil {
		s.onSuccess = func(any) {}
	}
	if s.onError == nil {
		s.onError = func(*fault.Error) {}
	}
	return s
}

// Name returns the sink's diagnostic label.
func (s *Sink) Name() string {
	return s.name
}

// Completed reports whether the sink has been completed.
func (s *Sink) Completed() bool {
	return s.state.Load() != statePending
}

// Succeed completes the call with value.
func (s *Sink) Succeed(value any) error {
	return s.complete(stateSucceeded, Outcome{Value: value}, func() { s.onSuccess(value) })
}

// Fail normalizes the parts into a fault.Error and completes the call with it.
func (s *Sink) Fail(code, message string, details map[string]any, native error) error {
	return s.FailWith(fault.Normalize(code, message, details, native))
}

// FailWith completes the call with an already normalized error. A nil err
// is normalized to the generic unknown error.
func (s *Sink) FailWith(err *fault.Error) error {
	if err == nil {
		err = fault.Normalize("", "", nil, nil)
	}
	return s.complete(stateFailed, Outcome{Err: err}, func() { s.onError(err) })
}

// NotImplemented completes the call with the not-implemented error.
func (s *Sink) NotImplemented(method string) error {
	return s.FailWith(&fault.Error{
		Code:    fault.CodeNotImplemented,
		Message: fmt.Sprintf("method %q is not implemented", method),
	})
}

func (s *Sink) complete(to uint32, outcome Outcome, deliver func()) error {
	if !s.state.CompareAndSwap(statePending, to) {
		prev := s.state.Load()
		log.Error().
			Str("sink", s.name).
			Str("completed_with", stateName(prev)).
			Str("attempted", stateName(to)).
			Msg("result sink completed more than once")
		if s.strict {
			panic(fmt.Sprintf("result: sink %s completed more than once (was %s, attempted %s)", s.name, stateName(prev), stateName(to)))
		}
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, s.name)
	}

	for _, fn := range s.observers {
		fn(outcome)
	}
	s.executor.Execute(deliver)
	return nil
}

// NewFuture returns a Sink whose outcome is delivered on the returned
// channel. The channel receives exactly one Outcome and is never closed.
func NewFuture(opts ...Option) (*Sink, <-chan Outcome) {
	ch := make(chan Outcome, 1)
	s := New(
		func(v any) { ch <- Outcome{Value: v} },
		func(e *fault.Error) { ch <- Outcome{Err: e} },
		opts...,
	)
	return s, ch
}
