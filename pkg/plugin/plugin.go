package plugin

import "context"

// Plugin is the execution contract every capability provider satisfies. The
// engine treats implementations as opaque: a command string and an input map
// go in, an output map or an error comes out.
type Plugin interface {
	// Describe returns the static metadata for the plugin.
	Describe() Descriptor
	// Execute runs one command. Implementations must honour ctx cancellation
	// and return every produced value keyed by its capability type.
	Execute(ctx context.Context, command string, input map[string]any) (map[string]any, error)
}

// Func adapts a plain function into a Plugin. Used by tests and by hosts that
// register in-process capabilities.
type Func struct {
	Meta Descriptor
	Run  func(ctx context.Context, command string, input map[string]any) (map[string]any, error)
}

// Describe implements Plugin.
func (f Func) Describe() Descriptor { return f.Meta }

// Execute implements Plugin.
func (f Func) Execute(ctx context.Context, command string, input map[string]any) (map[string]any, error) {
	if f.Run == nil {
		return map[string]any{}, nil
	}
	return f.Run(ctx, command, input)
}

// Option modifies the behaviour of a Registry instance.
type Option func(*Registry)

// WithLoader overrides the default shared-object loader implementation.
func WithLoader(loader Loader) Option {
	return func(r *Registry) {
		if loader != nil {
			r.loader = loader
		}
	}
}
