package config

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jlulug/shined/internal/event"
)

// PluginRegistry maps a manifest's "kind" tag to a subscriber
// constructor. Built-in gates (internal/scheduler) and publishers
// (internal/publish) register themselves under a tag here at startup.
type PluginRegistry map[string]func(params map[string]any) (func(any), error)

type pluginManifest struct {
	Kind   string         `yaml:"kind"`
	Topic  string         `yaml:"topic"`
	Params map[string]any `yaml:"params"`
}

// LoadPlugins clears bus and re-subscribes every plugin found under
// <configDir>/plugins/*.yaml, in lexical filename order. Grounded on
// shine/daemon.py's load_plugins: "clear then load in order" on every
// reload, never incrementally diffed.
func LoadPlugins(configDir string, registry PluginRegistry, bus *event.Bus) error {
	bus.Clear()

	files, err := pluginFiles(configDir)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return &LatchError{Source: path, Field: "<file>", Message: err.Error()}
		}
		var m pluginManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return &LatchError{Source: path, Field: "<yaml>", Message: err.Error()}
		}
		ctor, ok := registry[m.Kind]
		if !ok {
			return &LatchError{Source: path, Field: "kind", Message: "unknown plugin kind " + m.Kind}
		}
		sub, err := ctor(m.Params)
		if err != nil {
			return &LatchError{Source: path, Field: "params", Message: err.Error()}
		}
		if m.Topic == "" {
			return &LatchError{Source: path, Field: "topic", Message: "missing topic"}
		}
		bus.Subscribe(m.Topic, sub)
	}
	return nil
}

func pluginFiles(configDir string) ([]string, error) {
	dir := filepath.Join(configDir, "plugins")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
