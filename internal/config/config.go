// Package config loads the daemon's three definition sets — plugins,
// global settings, tasks — from directory trees of YAML files (spec.md
// §4.H), replacing the original's executable-Python config modules with
// structured records plus tag-to-constructor registries, per the Design
// Notes §9 "Dynamic config as code → structured definitions" directive.
// Grounded on samgonzalez27-script-weaver/internal/pluginengine's
// manifest-driven registry lookup shape and shine/daemon.py's
// load_plugins/load_config/load_mirrors sequencing.
package config

import (
	"time"
)

// Global holds the daemon-wide settings loaded from config.yaml, merged
// over the package-level defaults below. Grounded on shine/config.py's
// module-level CONCURRENT/INTERVAL/LOAD_THRESHOLD knobs.
type Global struct {
	Interval      time.Duration
	Concurrency   int
	LoadThreshold [3]float64 // one/five/fifteen minute averages, 0 = disabled
	PriorityRatio float64
}

// DefaultGlobal matches the scheduler's own DefaultConfig and the
// concurrency gate's historical default of 8 concurrent syncs.
func DefaultGlobal() Global {
	return Global{
		Interval:      10 * time.Second,
		Concurrency:   8,
		PriorityRatio: 60,
	}
}

// CapabilitySpec names a registered constructor tag plus its parameters,
// used for both task.Runner ("runner: {kind: rsync, params: {...}}") and
// task.ScheduleNext ("schedule: {kind: cron, params: {spec: ...}}").
type CapabilitySpec struct {
	Kind   string
	Params map[string]any
}

// LatchError reports a load-error-latch condition: a file parsed but one
// or more fields were malformed. The caller sets the latch and continues
// with whatever fields did parse, per spec.md §4.H.
type LatchError struct {
	Source  string
	Field   string
	Message string
}

func (e *LatchError) Error() string {
	return e.Source + ": " + e.Field + ": " + e.Message
}
