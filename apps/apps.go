// Package apps resolves shell app names to live backend application instances.
//
// The backend SDK owns every instance; this package only indexes the
// backend's live instance set by name and never caches what it finds.
package apps

import (
	"errors"
)

// Errors returned by backends that create and delete apps.
var (
	ErrAppNotFound = errors.New("app not found")
	ErrAppExists   = errors.New("app already exists")
	ErrEmptyName   = errors.New("app name cannot be empty")
)

// Options are the configuration values an app instance was created with.
type Options struct {
	APIKey            string `json:"apiKey,omitempty" yaml:"api_key"`
	AppID             string `json:"appId,omitempty" yaml:"app_id"`
	MessagingSenderID string `json:"messagingSenderId,omitempty" yaml:"messaging_sender_id"`
	ProjectID         string `json:"projectId,omitempty" yaml:"project_id"`
	DatabaseURL       string `json:"databaseURL,omitempty" yaml:"database_url"`
	StorageBucket     string `json:"storageBucket,omitempty" yaml:"storage_bucket"`
}

// AsMap returns the non-empty options keyed by their shell field names.
func (o Options) AsMap() map[string]any {
	out := make(map[string]any, 6)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("apiKey", o.APIKey)
	put("appId", o.AppID)
	put("messagingSenderId", o.MessagingSenderID)
	put("projectId", o.ProjectID)
	put("databaseURL", o.DatabaseURL)
	put("storageBucket", o.StorageBucket)
	return out
}

// Instance is an opaque handle to a configured backend application context.
type Instance interface {
	// Name returns the backend-native name of the instance.
	Name() string
	// Options returns the options the instance was configured with.
	Options() Options
}

// Backend is the backend SDK's view of its live application instances.
type Backend interface {
	// LiveInstances returns the instances that currently exist, keyed by
	// backend-native name. The returned map must not be retained by the backend.
	LiveInstances() map[string]Instance
}

type app struct {
	name string
	opts Options
}

// NewInstance returns a plain Instance value. Backends that do not carry
// their own handle type use it.
func NewInstance(name string, opts Options) Instance {
	return &app{name: name, opts: opts}
}

func (a *app) Name() string     { return a.name }
func (a *app) Options() Options { return a.opts }
func (a *app) String() string   { return a.name }
