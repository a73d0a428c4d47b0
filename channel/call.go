// Package channel routes inbound shell calls to the plugin owning their
// channel and completes each call through a result.Sink.
package channel

import (
	"context"
	"fmt"

	"github.com/toolink/bridge/appname"
	"github.com/toolink/bridge/result"
)

// Call is one inbound call from the shell.
type Call struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Arg returns the raw argument stored under key.
func (c *Call) Arg(key string) (any, bool) {
	if c == nil || c.Arguments == nil {
		return nil, false
	}
	v, ok := c.Arguments[key]
	return v, ok
}

// String returns the string argument stored under key. A missing key or a
// value of another type yields false.
func (c *Call) String(key string) (string, bool) {
	v, ok := c.Arg(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AppName returns the "appName" argument, defaulting to the shell's default
// app name.
func (c *Call) AppName() string {
	if name, ok := c.String("appName"); ok && name != "" {
		return name
	}
	return appname.DefaultShellName
}

func (c *Call) label() string {
	return fmt.Sprintf("%s/%s:%s", c.Channel, c.Method, c.ID)
}

// Handler handles calls on one channel. It must complete sink exactly once,
// either before returning or later from any goroutine.
type Handler interface {
	HandleCall(ctx context.Context, call *Call, sink *result.Sink)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call *Call, sink *result.Sink)

func (f HandlerFunc) HandleCall(ctx context.Context, call *Call, sink *result.Sink) {
	f(ctx, call, sink)
}
