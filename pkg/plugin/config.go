package plugin

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes which plugins a host should load at startup.
type Manifest struct {
	PluginDir string                  `yaml:"pluginDir"`
	Plugins   map[string]ManifestItem `yaml:"plugins"`
}

// ManifestItem is the configuration block for a single plugin instance. The
// optional descriptor overrides fields declared by the binary, which lets an
// operator adjust chain priority or capability types without rebuilding.
type ManifestItem struct {
	Enabled    bool        `yaml:"enabled"`
	Path       string      `yaml:"path"`
	Descriptor *Descriptor `yaml:"descriptor"`
}

// LoadManifest reads a YAML file into a Manifest.
func LoadManifest(path string) (Manifest, error) {
	var cfg Manifest
	if path == "" {
		return cfg, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode plugin manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the manifest for obviously broken entries.
func (m Manifest) Validate() error {
	for id, item := range m.Plugins {
		if id == "" {
			return errors.New("plugin manifest contains an empty identity")
		}
		if item.Enabled && item.Path == "" {
			return fmt.Errorf("plugin %s is enabled but has no path", id)
		}
	}
	return nil
}
