package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolink/bridge/fault"
	"github.com/toolink/bridge/meta"
	"github.com/toolink/bridge/result"
	"github.com/toolink/bridge/worker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type outcome struct {
	value any
	err   *fault.Error
}

// collector gathers callback invocations.
type collector struct {
	mu  sync.Mutex
	got []outcome
	ch  chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 16)}
}

func (c *collector) onSuccess(v any) {
	c.mu.Lock()
	c.got = append(c.got, outcome{value: v})
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) onError(e *fault.Error) {
	c.mu.Lock()
	c.got = append(c.got, outcome{err: e})
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("call never completed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[len(c.got)-1]
}

func TestCall_Arguments(t *testing.T) {
	c := &Call{Arguments: map[string]any{"appName": "secondary", "path": "a/b", "count": 3}}

	s, ok := c.String("path")
	assert.True(t, ok)
	assert.Equal(t, "a/b", s)

	_, ok = c.String("count")
	assert.False(t, ok)
	_, ok = c.String("missing")
	assert.False(t, ok)

	assert.Equal(t, "secondary", c.AppName())
	assert.Equal(t, "[DEFAULT]", (&Call{}).AppName())
	assert.Equal(t, "[DEFAULT]", (&Call{Arguments: map[string]any{"appName": ""}}).AppName())

	var nilCall *Call
	_, ok = nilCall.Arg("x")
	assert.False(t, ok)
}

func TestRouter_DispatchToHandler(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Handle("plugins.example/core", HandlerFunc(func(ctx context.Context, call *Call, sink *result.Sink) {
		info, ok := meta.FromContext(ctx)
		require.True(t, ok)
		_ = sink.Succeed(info.Method + "@" + info.App)
	})))

	c := newCollector()
	id, err := r.Dispatch(context.Background(), &Call{Channel: "plugins.example/core", Method: "Core#initialize"}, c.onSuccess, c.onError)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	out := c.wait(t)
	assert.Equal(t, "Core#initialize@[DEFAULT]", out.value)
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_UnknownChannelIsNotImplemented(t *testing.T) {
	r := NewRouter()
	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{ID: "7", Channel: "plugins.example/none", Method: "X#y"}, c.onSuccess, c.onError)
	require.NoError(t, err)

	out := c.wait(t)
	require.NotNil(t, out.err)
	assert.Equal(t, fault.CodeNotImplemented, out.err.Code)
}

func TestRouter_HandleRejectsDuplicates(t *testing.T) {
	r := NewRouter()
	h := HandlerFunc(func(context.Context, *Call, *result.Sink) {})
	require.NoError(t, r.Handle("a", h))
	assert.ErrorIs(t, r.Handle("a", h), ErrChannelTaken)
	assert.Error(t, r.Handle("", h))
	assert.Equal(t, []string{"a"}, r.Channels())

	require.NoError(t, r.Remove("a"))
	assert.ErrorIs(t, r.Remove("a"), ErrChannelNotFound)
}

func TestRouter_CallbacksRunOnExecutor(t *testing.T) {
	main := worker.NewSerial("main")
	t.Cleanup(func() { _ = main.Shutdown(context.Background()) })

	r := NewRouter(WithExecutor(main))
	require.NoError(t, r.Handle("a", HandlerFunc(func(_ context.Context, _ *Call, sink *result.Sink) {
		go func() { _ = sink.Succeed("from another goroutine") }()
	})))

	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	require.NoError(t, err)
	assert.Equal(t, "from another goroutine", c.wait(t).value)
}

func TestRouter_HandlerPanicFailsCall(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Handle("a", HandlerFunc(func(context.Context, *Call, *result.Sink) {
		panic("kaboom")
	})))

	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	require.NoError(t, err)

	out := c.wait(t)
	require.NotNil(t, out.err)
	assert.Contains(t, out.err.Message, "kaboom")
}

func TestRouter_CloseReportsNeverCompletedCalls(t *testing.T) {
	r := NewRouter()
	var held *result.Sink
	require.NoError(t, r.Handle("a", HandlerFunc(func(_ context.Context, _ *Call, sink *result.Sink) {
		held = sink
	})))

	c := newCollector()
	id, err := r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())
	require.Len(t, r.PendingCalls(), 1)
	assert.Equal(t, id, r.PendingCalls()[0].ID)

	err = r.Close()
	assert.ErrorIs(t, err, ErrIncompleteCalls)
	assert.ErrorIs(t, r.Close(), ErrRouterClosed)

	_, err = r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	assert.ErrorIs(t, err, ErrRouterClosed)

	require.NoError(t, held.Succeed(nil))
	assert.Equal(t, 0, r.Pending())
}

func TestRouter_CancelPendingCancelsHandlerContext(t *testing.T) {
	pool := worker.NewPool("background")
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	started := make(chan struct{})
	mux := NewMethodMux("storage", pool)
	mux.Handle("wait", func(ctx context.Context, _ *Call) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
			return "finished", nil
		}
	})

	r := NewRouter()
	require.NoError(t, r.Handle("storage", mux))

	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{Channel: "storage", Method: "wait"}, c.onSuccess, c.onError)
	require.NoError(t, err)
	<-started

	assert.Equal(t, 1, r.CancelPending())
	out := c.wait(t)
	require.NotNil(t, out.err)
	assert.Equal(t, "storage", out.err.Code)
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, 0, r.Pending())
	assert.NoError(t, r.Close())
}

func TestRouter_CompletedCallContextIsCancelled(t *testing.T) {
	var callCtx context.Context
	r := NewRouter()
	require.NoError(t, r.Handle("a", HandlerFunc(func(ctx context.Context, _ *Call, sink *result.Sink) {
		callCtx = ctx
		_ = sink.Succeed(nil)
	})))

	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	require.NoError(t, err)
	c.wait(t)

	require.NotNil(t, callCtx)
	assert.ErrorIs(t, callCtx.Err(), context.Canceled)
}

func TestRouter_DoubleCompletionDeliversOnce(t *testing.T) {
	r := NewRouter()
	var second error
	require.NoError(t, r.Handle("a", HandlerFunc(func(_ context.Context, _ *Call, sink *result.Sink) {
		_ = sink.Succeed(1)
		second = sink.Fail("late", "too late", nil, nil)
	})))

	c := newCollector()
	_, err := r.Dispatch(context.Background(), &Call{Channel: "a", Method: "m"}, c.onSuccess, c.onError)
	require.NoError(t, err)

	assert.Equal(t, 1, c.wait(t).value)
	assert.ErrorIs(t, second, result.ErrAlreadyCompleted)
	c.mu.Lock()
	assert.Len(t, c.got, 1)
	c.mu.Unlock()
}

func TestMethodMux_Dispatch(t *testing.T) {
	pool := worker.NewPool("background")
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	mux := NewMethodMux("storage", pool)
	mux.Handle("Reference#getMetadata", func(_ context.Context, call *Call) (any, error) {
		path, _ := call.String("path")
		return map[string]any{"fullPath": path}, nil
	})
	mux.Handle("Reference#delete", func(context.Context, *Call) (any, error) {
		return nil, errors.New("object does not exist")
	})
	mux.Handle("Reference#list", func(context.Context, *Call) (any, error) {
		return nil, status.Error(codes.PermissionDenied, "denied")
	})
	mux.Handle("Reference#explode", func(context.Context, *Call) (any, error) {
		panic("bad state")
	})
	assert.Equal(t, 4, mux.Methods())

	r := NewRouter()
	require.NoError(t, r.Handle("plugins.example/storage", mux))

	dispatch := func(method string) outcome {
		c := newCollector()
		_, err := r.Dispatch(context.Background(), &Call{
			Channel:   "plugins.example/storage",
			Method:    method,
			Arguments: map[string]any{"path": "images/cat.png"},
		}, c.onSuccess, c.onError)
		require.NoError(t, err)
		return c.wait(t)
	}

	ok := dispatch("Reference#getMetadata")
	assert.Equal(t, map[string]any{"fullPath": "images/cat.png"}, ok.value)

	failed := dispatch("Reference#delete")
	require.NotNil(t, failed.err)
	assert.Equal(t, "storage", failed.err.Code)
	assert.Equal(t, "object does not exist", failed.err.Message)

	denied := dispatch("Reference#list")
	require.NotNil(t, denied.err)
	assert.Equal(t, "storage", denied.err.Code)
	assert.Equal(t, "permission-denied", denied.err.Details["code"])

	panicked := dispatch("Reference#explode")
	require.NotNil(t, panicked.err)
	assert.Contains(t, panicked.err.Message, "bad state")

	missing := dispatch("Reference#unknown")
	require.NotNil(t, missing.err)
	assert.Equal(t, fault.CodeNotImplemented, missing.err.Code)
}

func TestMethodMux_SubmitFailureFailsCall(t *testing.T) {
	pool := worker.NewPool("closed")
	require.NoError(t, pool.Shutdown(context.Background()))

	mux := NewMethodMux("", pool)
	mux.Handle("m", func(context.Context, *Call) (any, error) { return "never", nil })

	s, ch := result.NewFuture()
	mux.HandleCall(context.Background(), &Call{Channel: "a", Method: "m"}, s)

	out := <-ch
	require.NotNil(t, out.Err)
	assert.ErrorIs(t, out.Err.Cause, worker.ErrPoolClosed)
}

func TestMethodMux_InlineWithoutSubmitter(t *testing.T) {
	mux := NewMethodMux("core", nil)
	mux.Handle("m", func(context.Context, *Call) (any, error) { return "inline", nil })

	s, ch := result.NewFuture()
	mux.HandleCall(context.Background(), &Call{Method: "m"}, s)
	assert.True(t, s.Completed())
	assert.Equal(t, "inline", (<-ch).Value)
}
