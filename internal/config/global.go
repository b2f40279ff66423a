package config

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jlulug/shined/internal/schedule"
)

type globalYAML struct {
	Interval      string    `yaml:"interval"`
	Concurrency   int       `yaml:"concurrency"`
	LoadThreshold []float64 `yaml:"load_threshold"`
	PriorityRatio float64   `yaml:"priority_ratio"`
}

// LoadGlobal reads <configDir>/config.yaml, falling back to
// DefaultGlobal for any field the file omits or a missing file
// entirely. Unknown fields are rejected (yaml.v3's KnownFields
// strictness, this package's analogue of the state store's trailing-
// content JSON check).
func LoadGlobal(configDir string) (Global, error) {
	g := DefaultGlobal()

	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return g, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw globalYAML
	if err := dec.Decode(&raw); err != nil {
		return g, &LatchError{Source: path, Field: "<yaml>", Message: err.Error()}
	}

	if raw.Interval != "" {
		d, err := schedule.ParseDuration(raw.Interval)
		if err != nil {
			return g, &LatchError{Source: path, Field: "interval", Message: err.Error()}
		}
		g.Interval = d
	}
	if raw.Concurrency > 0 {
		g.Concurrency = raw.Concurrency
	}
	if raw.PriorityRatio > 0 {
		g.PriorityRatio = raw.PriorityRatio
	}
	for i := 0; i < len(raw.LoadThreshold) && i < 3; i++ {
		g.LoadThreshold[i] = raw.LoadThreshold[i]
	}
	return g, nil
}
