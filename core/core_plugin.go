package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toolink/bridge/appname"
	"github.com/toolink/bridge/apps"
	"github.com/toolink/bridge/channel"
	"github.com/toolink/bridge/fault"
	"github.com/toolink/bridge/meta"
	"github.com/toolink/bridge/result"
)

const (
	CoreChannel     = "plugins.toolink/bridge_core"
	CoreLibraryName = "bridge-core"
	Version         = "0.4.0"
)

// Core plugin methods.
const (
	MethodInitializeCore = "Core#initializeCore"
	MethodInitializeApp  = "Core#initializeApp"
	MethodDeleteApp      = "App#delete"
)

// CorePlugin answers the shell's core calls: listing apps at startup and
// creating or deleting apps when the backend allows it.
type CorePlugin struct {
	rt  *Runtime
	mux *channel.MethodMux
}

// NewCorePlugin creates the core plugin for rt.
func NewCorePlugin(rt *Runtime) *CorePlugin {
	p := &CorePlugin{rt: rt, mux: channel.NewMethodMux("core", rt.Background())}
	p.mux.Handle(MethodInitializeCore, p.initializeCore)
	p.mux.Handle(MethodInitializeApp, p.initializeApp)
	p.mux.Handle(MethodDeleteApp, p.deleteApp)
	return p
}

func (p *CorePlugin) ConstantsForApp(app apps.Instance) map[string]any {
	return map[string]any{
		"isDefault": app.Name() == appname.DefaultBackendName,
	}
}

func (p *CorePlugin) LibraryName() string    { return CoreLibraryName }
func (p *CorePlugin) LibraryVersion() string { return Version }
func (p *CorePlugin) ChannelName() string    { return CoreChannel }

// HandleCall implements channel.Handler.
func (p *CorePlugin) HandleCall(ctx context.Context, call *channel.Call, sink *result.Sink) {
	p.mux.HandleCall(ctx, call, sink)
}

func (p *CorePlugin) initializeCore(context.Context, *channel.Call) (any, error) {
	inits := p.rt.InitializeCore()
	out := make([]map[string]any, 0, len(inits))
	for _, in := range inits {
		out = append(out, in.AsMap())
	}
	return out, nil
}

func (p *CorePlugin) initializeApp(ctx context.Context, call *channel.Call) (any, error) {
	shellName := call.AppName()
	opts, err := optionsArg(call)
	if err != nil {
		return nil, err
	}

	if inst, ok := p.rt.Registry().Lookup(shellName); ok {
		if inst.Options() != opts {
			return nil, &fault.Error{
				Code:    "duplicate-app",
				Message: fmt.Sprintf("app named %q already exists with different options", shellName),
			}
		}
		return p.rt.describe(inst).AsMap(), nil
	}

	store, ok := storeFor(p.rt.backend)
	if !ok {
		return nil, &fault.Error{Code: fault.CodeNotImplemented, Message: "the app backend does not support creating apps"}
	}
	inst, err := store.CreateApp(ctx, appname.ToBackend(shellName), opts)
	if errors.Is(err, apps.ErrAppExists) {
		// created elsewhere after the lookup
		return nil, &fault.Error{
			Code:    "duplicate-app",
			Message: fmt.Sprintf("app named %q already exists", shellName),
			Cause:   err,
		}
	}
	if err != nil {
		return nil, err
	}
	logger := meta.Logger(ctx)
	logger.Info().Str("app", shellName).Msg("app initialized")
	return p.rt.describe(inst).AsMap(), nil
}

func (p *CorePlugin) deleteApp(ctx context.Context, call *channel.Call) (any, error) {
	shellName := call.AppName()
	store, ok := storeFor(p.rt.backend)
	if !ok {
		return nil, &fault.Error{Code: fault.CodeNotImplemented, Message: "the app backend does not support deleting apps"}
	}
	err := store.DeleteApp(ctx, appname.ToBackend(shellName))
	if errors.Is(err, apps.ErrAppNotFound) {
		return nil, &fault.Error{Code: "no-app", Message: fmt.Sprintf("no app named %q has been created", shellName), Cause: err}
	}
	return nil, err
}

// optionsArg decodes the "options" argument into apps.Options.
func optionsArg(call *channel.Call) (apps.Options, error) {
	var opts apps.Options
	raw, ok := call.Arg("options")
	if !ok || raw == nil {
		return opts, nil
	}
	data, err := json.Marshal(raw)
	if err == nil {
		err = json.Unmarshal(data, &opts)
	}
	if err != nil {
		return opts, &fault.Error{Code: "invalid-argument", Message: "options must be a map of strings", Cause: err}
	}
	return opts, nil
}

var _ channel.Handler = (*CorePlugin)(nil)
