// Package core wires plugins, the app registry, call routing, executors and
// the event broker into the runtime the shell talks to.
package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/appname"
	"github.com/toolink/bridge/apps"
	"github.com/toolink/bridge/channel"
	"github.com/toolink/bridge/extension"
	"github.com/toolink/bridge/fault"
	"github.com/toolink/bridge/pubsub"
	"github.com/toolink/bridge/worker"
)

// AppInit is what the shell needs to set up one app: its shell name, the
// options it was created with and every plugin's constants for it.
type AppInit struct {
	Name            string                    `json:"name"`
	Options         apps.Options              `json:"options"`
	PluginConstants map[string]map[string]any `json:"pluginConstants"`
}

// AsMap returns a in the shape sent to the shell.
func (a AppInit) AsMap() map[string]any {
	constants := make(map[string]any, len(a.PluginConstants))
	for k, v := range a.PluginConstants {
		constants[k] = v
	}
	return map[string]any{
		"name":            a.Name,
		"options":         a.Options.AsMap(),
		"pluginConstants": constants,
	}
}

// Runtime is the core the shell dispatches into.
type Runtime struct {
	manager    *extension.Manager
	registry   *apps.Registry
	backend    apps.Backend
	router     *channel.Router
	broker     *pubsub.Broker
	background *worker.Pool
	main       *worker.Pool
	recorder   extension.LibraryRecorder

	libMu     sync.RWMutex
	libraries map[string]string // library name -> version

	// owned resources, released by Close in reverse order: background
	// pool, main executor, broker
	closers []func(ctx context.Context) error
	closeMu sync.Mutex
	closed  bool
}

// New builds a Runtime over backend. Unless WithoutCorePlugin is given, the
// core plugin is registered on CoreChannel.
func New(backend apps.Backend, opts ...Option) (*Runtime, error) {
	if backend == nil {
		return nil, errors.New("core: backend is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	r := &Runtime{
		manager:   o.manager,
		registry:  apps.NewRegistry(backend),
		backend:   backend,
		broker:    o.broker,
		recorder:  o.recorder,
		libraries: make(map[string]string),
	}
	if r.manager == nil {
		r.manager = extension.New()
	}

	if r.broker == nil {
		b, err := pubsub.New()
		if err != nil {
			return nil, err
		}
		r.broker = b
		r.own(func(context.Context) error { return b.Close() })
	}
	r.main = o.main
	if r.main == nil {
		r.main = worker.NewSerial("main", worker.WithBufferSize(o.mainQueueSize))
		r.own(r.main.Shutdown)
	}
	r.background = o.background
	if r.background == nil {
		r.background = worker.NewPool("background", worker.WithConcurrency(o.concurrency), worker.WithBufferSize(o.queueSize))
		r.own(r.background.Shutdown)
	}

	r.router = channel.NewRouter(
		channel.WithExecutor(r.main),
		channel.WithStrictCompletion(o.strict),
	)

	// plugins registered on a supplied manager before the runtime existed
	for _, p := range r.manager.Plugins() {
		if err := r.adopt(p); err != nil {
			_ = r.Close(context.Background())
			return nil, err
		}
	}

	if o.corePlugin {
		if err := r.Register(NewCorePlugin(r)); err != nil {
			_ = r.Close(context.Background())
			return nil, fmt.Errorf("failed to register core plugin: %w", err)
		}
	}

	log.Info().
		Int("workers", o.concurrency).
		Bool("strict", o.strict).
		Bool("core_plugin", o.corePlugin).
		Msg("core runtime created")
	return r, nil
}

func (r *Runtime) own(closer func(ctx context.Context) error) {
	r.closers = append(r.closers, closer)
}

// Register adds p to the manager and, when p also handles calls, routes its
// channel to it. The plugin's library is recorded once registered.
func (r *Runtime) Register(p extension.Plugin) error {
	if err := r.manager.Register(p); err != nil {
		return err
	}
	if err := r.adopt(p); err != nil {
		_ = r.manager.Unregister(p.ChannelName())
		return err
	}
	return nil
}

// adopt routes and records a plugin already held by the manager.
func (r *Runtime) adopt(p extension.Plugin) error {
	id := extension.IdentityOf(p)
	if h, ok := p.(channel.Handler); ok {
		if err := r.router.Handle(id.Channel, h); err != nil {
			return err
		}
	}
	r.recordLibrary(id.LibraryName, id.LibraryVersion)
	return nil
}

func (r *Runtime) recordLibrary(name, version string) {
	r.libMu.Lock()
	r.libraries[name] = version
	r.libMu.Unlock()
	if r.recorder != nil {
		r.recorder.RecordLibrary(name, version)
	}
	log.Debug().Str("library", name).Str("version", version).Msg("library recorded")
}

// Libraries returns the recorded library versions keyed by library name.
func (r *Runtime) Libraries() map[string]string {
	r.libMu.RLock()
	defer r.libMu.RUnlock()
	return maps.Clone(r.libraries)
}

// Manager returns the plugin manager.
func (r *Runtime) Manager() *extension.Manager { return r.manager }

// Registry returns the app registry.
func (r *Runtime) Registry() *apps.Registry { return r.registry }

// Broker returns the event broker.
func (r *Runtime) Broker() *pubsub.Broker { return r.broker }

// Background returns the pool plugins should run backend work on.
func (r *Runtime) Background() *worker.Pool { return r.background }

// Emitter returns an event emitter for a plugin's channel.
func (r *Runtime) Emitter(channelName string) *pubsub.Emitter {
	return r.broker.Emitter(channelName)
}

// Start attaches every plugin implementing extension.Attacher.
func (r *Runtime) Start() error {
	return r.manager.AttachAll()
}

// InitializeCore describes every live app for the shell, sorted by backend
// name. Names are translated to the shell's naming.
func (r *Runtime) InitializeCore() []AppInit {
	instances := r.registry.All()
	out := make([]AppInit, 0, len(instances))
	for _, inst := range instances {
		out = append(out, r.describe(inst))
	}
	log.Debug().Int("apps", len(out)).Msg("core initialized")
	return out
}

func (r *Runtime) describe(inst apps.Instance) AppInit {
	return AppInit{
		Name:            appname.ToShell(inst.Name()),
		Options:         inst.Options(),
		PluginConstants: r.manager.ConstantsForApp(inst),
	}
}

// Reinitialize cancels in-flight calls and tells plugins that the shell
// reinitialized the core.
func (r *Runtime) Reinitialize() error {
	n := r.router.CancelPending()
	log.Info().Int("cancelled_calls", n).Msg("core reinitialized")
	return r.manager.DidReinitialize()
}

// Dispatch routes call to its plugin. Exactly one of onSuccess or onError is
// eventually invoked on the main executor.
func (r *Runtime) Dispatch(ctx context.Context, call *channel.Call, onSuccess func(any), onError func(*fault.Error)) (string, error) {
	return r.router.Dispatch(ctx, call, onSuccess, onError)
}

// Pending returns the number of calls not yet completed.
func (r *Runtime) Pending() int {
	return r.router.Pending()
}

// Close stops routing, detaches plugins and releases the resources the
// runtime created, draining the worker pools. Calls never completed are
// reported in the returned error.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.router.CancelPending()

	var errs []error
	if err := r.manager.DetachAll(); err != nil {
		errs = append(errs, err)
	}
	// pools drain before the router reports what is still pending
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.router.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		log.Warn().Int("error_count", len(errs)).Msg("core runtime closed with errors")
		return errors.Join(errs...)
	}
	log.Info().Msg("core runtime closed")
	return nil
}
