// Package extension defines the capability contract every plugin implements
// and the manager that owns the set of registered plugins.
package extension

import (
	"fmt"

	"github.com/toolink/bridge/apps"
)

// Plugin is implemented by every extension module. All methods must be
// deterministic and free of side effects; ConstantsForApp runs on the shell's
// setup path and must not block on I/O.
type Plugin interface {
	// ConstantsForApp returns the values the shell needs to initialize its
	// binding of this plugin for the given app.
	ConstantsForApp(app apps.Instance) map[string]any

	// LibraryName is the identifier registered with the backend's telemetry.
	LibraryName() string

	// LibraryVersion is the plugin's semantic version.
	LibraryVersion() string

	// ChannelName identifies the inbound calls that belong to this plugin.
	// It must be unique across all plugins in a process.
	ChannelName() string
}

// Reinitializer is implemented by plugins that need to reset state after
// the core has been reinitialized (e.g. after a hot restart of the shell).
type Reinitializer interface {
	DidReinitialize() error
}

// Attacher is implemented by plugins holding resources that live for as long
// as the plugin is attached to the engine.
type Attacher interface {
	Attach() error
	Detach() error
}

// LibraryRecorder receives the identity of every registered plugin.
type LibraryRecorder interface {
	RecordLibrary(name, version string)
}

// LibraryRecorderFunc adapts a function to LibraryRecorder.
type LibraryRecorderFunc func(name, version string)

func (f LibraryRecorderFunc) RecordLibrary(name, version string) { f(name, version) }

// Identity is the metadata a plugin exposes to the shell's registration step.
type Identity struct {
	Channel        string `json:"channel"`
	LibraryName    string `json:"libraryName"`
	LibraryVersion string `json:"libraryVersion"`
}

// IdentityOf reads p's identity accessors.
func IdentityOf(p Plugin) Identity {
	return Identity{
		Channel:        p.ChannelName(),
		LibraryName:    p.LibraryName(),
		LibraryVersion: p.LibraryVersion(),
	}
}

// Validate reports ErrInvalidIdentity if any field is empty.
func (id Identity) Validate() error {
	switch {
	case id.Channel == "":
		return fmt.Errorf("%w: empty channel name", ErrInvalidIdentity)
	case id.LibraryName == "":
		return fmt.Errorf("%w: empty library name for channel %s", ErrInvalidIdentity, id.Channel)
	case id.LibraryVersion == "":
		return fmt.Errorf("%w: empty library version for channel %s", ErrInvalidIdentity, id.Channel)
	}
	return nil
}

// Manager errors.
var (
	ErrPluginAlreadyRegistered = fmt.Errorf("plugin channel is already registered")
	ErrPluginNotFound          = fmt.Errorf("plugin not found")
	ErrInvalidIdentity         = fmt.Errorf("plugin identity is invalid")
	ErrOrderMismatch           = fmt.Errorf("order list count does not match registered plugins count")
	ErrOrderMissing            = fmt.Errorf("plugin specified in order but not registered")
	ErrOrderDuplicate          = fmt.Errorf("duplicate channel name found in order")
)
