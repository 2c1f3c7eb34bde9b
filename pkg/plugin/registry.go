package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry keeps track of registered plugins and resolves identities to live
// instances at execution time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	loader  Loader
}

type entry struct {
	Plugin     Plugin
	Descriptor Descriptor
	Source     string
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		loader:  SharedObjectLoader{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds a plugin instance directly to the registry.
func (r *Registry) Register(p Plugin) error {
	return r.register(p, "manual", nil)
}

// Load loads a plugin implementation from disk and registers it. The manifest
// entry may override descriptor fields declared by the binary.
func (r *Registry) Load(path string, override *Descriptor) error {
	if path == "" {
		return errors.New("plugin path cannot be empty")
	}
	p, err := r.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	return r.register(p, path, override)
}

func (r *Registry) register(p Plugin, source string, override *Descriptor) error {
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	desc := p.Describe()
	if override != nil {
		desc = mergeDescriptors(desc, *override)
	}
	desc = normalizeDescriptor(desc)
	if desc.Identity == "" {
		return errors.New("plugin identity cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Identity]; exists {
		return fmt.Errorf("plugin %s already registered", desc.Identity)
	}
	r.entries[desc.Identity] = &entry{Plugin: p, Descriptor: desc, Source: source}
	return nil
}

// Resolve returns the live instance for an identity.
func (r *Registry) Resolve(identity string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	if !ok {
		return nil, false
	}
	return e.Plugin, true
}

// Describe returns the registered descriptor for an identity.
func (r *Registry) Describe(identity string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	if !ok {
		return Descriptor{}, false
	}
	return e.Descriptor.Clone(), true
}

// Remove drops a plugin from the registry. Returns false for unknown ids.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Identities returns the sorted identities of all registered plugins.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptors returns copies of every registered descriptor, sorted by
// identity.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descs = append(descs, e.Descriptor.Clone())
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Identity < descs[j].Identity })
	return descs
}

// LoadManifest registers every enabled plugin from a manifest.
func (r *Registry) LoadManifest(cfg Manifest) error {
	for id, pluginCfg := range cfg.Plugins {
		if !pluginCfg.Enabled {
			continue
		}
		path := pluginCfg.Path
		if !filepath.IsAbs(path) && cfg.PluginDir != "" {
			path = filepath.Join(cfg.PluginDir, path)
		}
		override := pluginCfg.Descriptor
		if override == nil {
			override = &Descriptor{}
		}
		if override.Identity == "" {
			override.Identity = id
		}
		if err := r.Load(path, override); err != nil {
			return err
		}
	}
	return nil
}

func mergeDescriptors(base, override Descriptor) Descriptor {
	merged := base
	if override.Identity != "" {
		merged.Identity = override.Identity
	}
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Description != "" {
		merged.Description = override.Description
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	if override.Author != "" {
		merged.Author = override.Author
	}
	if override.Category != "" {
		merged.Category = override.Category
	}
	if len(override.Tags) > 0 {
		merged.Tags = override.Tags
	}
	if len(override.InputTypes) > 0 {
		merged.InputTypes = override.InputTypes
	}
	if len(override.OutputTypes) > 0 {
		merged.OutputTypes = override.OutputTypes
	}
	if len(override.CollaboratesWith) > 0 {
		merged.CollaboratesWith = override.CollaboratesWith
	}
	if override.ChainPriority != 0 {
		merged.ChainPriority = override.ChainPriority
	}
	if override.AutoChainEligible {
		merged.AutoChainEligible = true
	}
	return merged
}

func normalizeDescriptor(desc Descriptor) Descriptor {
	desc.Identity = strings.TrimSpace(desc.Identity)
	if desc.Category == "" {
		desc.Category = CategoryUtility
	}
	desc.Tags = dedupe(desc.Tags)
	desc.InputTypes = dedupe(desc.InputTypes)
	desc.OutputTypes = dedupe(desc.OutputTypes)
	desc.CollaboratesWith = dedupe(desc.CollaboratesWith)
	return desc
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
