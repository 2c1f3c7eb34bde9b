package plugin

import (
	"errors"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(path string) (Plugin, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (Plugin, error) { return f(path) }

// SharedObjectLoader uses the Go standard library plugin mechanism to
// dynamically load modules built with -buildmode=plugin.
type SharedObjectLoader struct{}

// Load opens the shared object and searches for a `Plugin` symbol
// implementing the Plugin interface.
func (SharedObjectLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, errors.New("plugin symbol must implement plugin.Plugin")
	}
}
