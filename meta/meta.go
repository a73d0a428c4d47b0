// Package meta carries per-call metadata through a context.Context.
package meta

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// metadataKey is the private key type used for context.WithValue.
type metadataKey struct{}

// Call describes the inbound call a context belongs to.
type Call struct {
	ID      string
	Channel string
	Method  string
	App     string
	Started time.Time
}

// Elapsed returns the time since the call started.
func (c Call) Elapsed() time.Duration {
	if c.Started.IsZero() {
		return 0
	}
	return time.Since(c.Started)
}

// WithCall returns a context carrying c.
func WithCall(ctx context.Context, c Call) context.Context {
	if ctx == nil {
		log.Error().Msg("attempted to attach call metadata to a nil context, using background context")
		ctx = context.Background()
	}
	return context.WithValue(ctx, metadataKey{}, c)
}

// FromContext returns the call carried by ctx.
func FromContext(ctx context.Context) (Call, bool) {
	if ctx == nil {
		return Call{}, false
	}
	c, ok := ctx.Value(metadataKey{}).(Call)
	return c, ok
}

// Logger returns the global logger with the fields of the call carried by
// ctx. Without call metadata it returns the global logger unchanged.
func Logger(ctx context.Context) zerolog.Logger {
	c, ok := FromContext(ctx)
	if !ok {
		return log.Logger
	}
	lc := log.With().Str("call_id", c.ID).Str("channel", c.Channel).Str("method", c.Method)
	if c.App != "" {
		lc = lc.Str("app", c.App)
	}
	return lc.Logger()
}
