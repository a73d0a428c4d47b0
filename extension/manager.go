package extension

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/apps"
)

// Manager holds the registered plugins, keyed by channel name, and drives the
// attach/detach lifecycle of those implementing Attacher.
// It uses the global zerolog/log instance for logging.
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin // keyed by channel name
	order    []string          // registration order unless SetOrder is called; detach is reverse.
	attached map[string]bool   // plugins whose Attach succeeded
	recorder LibraryRecorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithLibraryRecorder reports every registered plugin's library name and
// version to r.
func WithLibraryRecorder(r LibraryRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		plugins:  make(map[string]Plugin),
		order:    make([]string, 0),
		attached: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds p under its channel name and appends it to the order.
// It returns ErrInvalidIdentity if any identity field is empty and
// ErrPluginAlreadyRegistered if the channel is taken.
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidIdentity)
	}
	id := IdentityOf(p)
	if err := id.Validate(); err != nil {
		log.Error().Err(err).Str("library", id.LibraryName).Msg("rejected plugin with invalid identity")
		return err
	}

	m.mu.Lock()
	if existing, exists := m.plugins[id.Channel]; exists {
		m.mu.Unlock()
		log.Error().
			Str("channel", id.Channel).
			Str("library", id.LibraryName).
			Str("registered_library", existing.LibraryName()).
			Msg("attempted to register duplicate plugin channel")
		return fmt.Errorf("%w: %s", ErrPluginAlreadyRegistered, id.Channel)
	}
	m.plugins[id.Channel] = p
	m.order = append(m.order, id.Channel)
	recorder := m.recorder
	m.mu.Unlock()

	if recorder != nil {
		recorder.RecordLibrary(id.LibraryName, id.LibraryVersion)
	}
	log.Info().
		Str("channel", id.Channel).
		Str("library", id.LibraryName).
		Str("version", id.LibraryVersion).
		Msg("plugin registered")
	return nil
}

// Unregister removes the plugin on channel. It does not detach it.
func (m *Manager) Unregister(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[channel]; !exists {
		log.Warn().Str("channel", channel).Msg("attempted to unregister non-existent plugin")
		return fmt.Errorf("%w: %s", ErrPluginNotFound, channel)
	}

	delete(m.plugins, channel)
	delete(m.attached, channel)

	order := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if name != channel {
			order = append(order, name)
		}
	}
	m.order = order

	log.Info().Str("channel", channel).Msg("plugin unregistered")
	return nil
}

// Get returns the plugin registered on channel.
func (m *Manager) Get(channel string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[channel]
	return p, ok
}

// Plugins returns the registered plugins in order.
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

// Identities returns the identity of every registered plugin in order.
func (m *Manager) Identities() []Identity {
	plugins := m.Plugins()
	out := make([]Identity, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, IdentityOf(p))
	}
	return out
}

// ConstantsForApp collects every plugin's constants for app, keyed by channel.
// A plugin returning nil contributes an empty map.
func (m *Manager) ConstantsForApp(app apps.Instance) map[string]map[string]any {
	plugins := m.Plugins()
	out := make(map[string]map[string]any, len(plugins))
	for _, p := range plugins {
		constants := p.ConstantsForApp(app)
		if constants == nil {
			constants = map[string]any{}
		}
		out[p.ChannelName()] = constants
	}
	return out
}

// DidReinitialize notifies every Reinitializer in order. All plugins are
// notified even if some fail; the failures are joined.
func (m *Manager) DidReinitialize() error {
	var errs []error
	for _, p := range m.Plugins() {
		r, ok := p.(Reinitializer)
		if !ok {
			continue
		}
		if err := r.DidReinitialize(); err != nil {
			log.Error().Err(err).Str("channel", p.ChannelName()).Msg("plugin failed to reinitialize")
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.ChannelName(), err))
		}
	}
	return errors.Join(errs...)
}

// SetOrder sets the order used by AttachAll (and, reversed, DetachAll).
// channels must name every registered plugin exactly once.
func (m *Manager) SetOrder(channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(channels) != len(m.plugins) {
		log.Error().
			Int("provided_count", len(channels)).
			Int("registered_count", len(m.plugins)).
			Msg("failed to set plugin order: count mismatch")
		return fmt.Errorf("%w (provided: %d, registered: %d)", ErrOrderMismatch, len(channels), len(m.plugins))
	}

	seen := make(map[string]struct{}, len(channels))
	for _, name := range channels {
		if _, exists := m.plugins[name]; !exists {
			log.Error().Str("channel", name).Msg("failed to set plugin order: plugin not registered")
			return fmt.Errorf("%w: %s", ErrOrderMissing, name)
		}
		if _, dup := seen[name]; dup {
			log.Error().Str("channel", name).Msg("failed to set plugin order: duplicate channel")
			return fmt.Errorf("%w: %s", ErrOrderDuplicate, name)
		}
		seen[name] = struct{}{}
	}

	m.order = append([]string(nil), channels...)
	log.Info().Strs("order", m.order).Msg("plugin order set")
	return nil
}

// AttachAll attaches every Attacher in order. If one fails, the plugins
// attached by this call are detached again in reverse order and the failure
// is returned.
func (m *Manager) AttachAll() error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	attached := make([]string, 0, len(order))
	for _, name := range order {
		m.mu.RLock()
		p, exists := m.plugins[name]
		already := m.attached[name]
		m.mu.RUnlock()
		if !exists {
			log.Warn().Str("channel", name).Msg("plugin in order but not registered during attach (unregistered concurrently?)")
			continue
		}
		a, ok := p.(Attacher)
		if !ok || already {
			continue
		}

		start := time.Now()
		if err := a.Attach(); err != nil {
			log.Error().Str("channel", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to attach plugin")
			m.detach(attached, true)
			return fmt.Errorf("failed to attach plugin %s: %w", name, err)
		}

		m.mu.Lock()
		m.attached[name] = true
		m.mu.Unlock()
		attached = append(attached, name)
		log.Info().Str("channel", name).Dur("duration", time.Since(start)).Msg("plugin attached")
	}
	return nil
}

// DetachAll detaches every attached plugin in reverse order, continuing past
// failures. The failures are joined.
func (m *Manager) DetachAll() error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	errs := m.detach(order, false)
	if len(errs) > 0 {
		log.Warn().Int("error_count", len(errs)).Msg("plugin detach completed with errors")
		return errors.Join(errs...)
	}
	return nil
}

// detach detaches the attached plugins among names, last first.
func (m *Manager) detach(names []string, rollback bool) []error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]

		m.mu.RLock()
		p, exists := m.plugins[name]
		isAttached := m.attached[name]
		m.mu.RUnlock()
		if !exists || !isAttached {
			continue
		}

		start := time.Now()
		if err := p.(Attacher).Detach(); err != nil {
			log.Error().Str("channel", name).Bool("rollback", rollback).Dur("duration", time.Since(start)).Err(err).Msg("failed to detach plugin")
			errs = append(errs, fmt.Errorf("failed to detach plugin %s: %w", name, err))
		} else {
			log.Info().Str("channel", name).Bool("rollback", rollback).Dur("duration", time.Since(start)).Msg("plugin detached")
		}

		m.mu.Lock()
		delete(m.attached, name)
		m.mu.Unlock()
	}
	if rollback && len(errs) > 0 {
		log.Error().Errs("rollback_errors", errs).Msg("errors occurred during attach rollback")
	}
	return errs
}
