package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jlulug/shined/internal/schedule"
	"github.com/jlulug/shined/internal/task"
)

// RunnerRegistry maps a task definition's runner.kind tag to a
// constructor producing the task.Runner capability.
type RunnerRegistry map[string]func(params map[string]any) (func(*task.Task) bool, error)

// ScheduleRegistry maps a task definition's schedule.kind tag to a
// constructor producing a schedule.Schedule evaluator.
type ScheduleRegistry map[string]func(params map[string]any) (schedule.Schedule, error)

// TaskDef is one <config>/tasks/*.yaml file's decoded contents, the
// structured-record replacement for shine/daemon.py's _exec-based
// dynamic task loading (Design Notes §9).
type TaskDef struct {
	Name        string
	Runner      CapabilitySpec
	Schedule    CapabilitySpec
	Priority    float64
	Description string
	Category    string
	URL         string
	Upstream    string
	HelpURL     string
	Extra       map[string]any
}

var knownTaskKeys = map[string]bool{
	"name": true, "runner": true, "schedule": true, "priority": true,
	"description": true, "category": true, "url": true, "upstream": true, "help_url": true,
}

// LoadTasks decodes every file under <configDir>/tasks/*.yaml into a
// TaskDef. A built-in field with the wrong YAML shape sets the returned
// latch flag and is skipped (left at its zero value) rather than
// aborting the whole file, matching spec.md §4.H.
func LoadTasks(configDir string) ([]TaskDef, bool, error) {
	dir := filepath.Join(configDir, "tasks")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	latched := false
	var defs []TaskDef
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return defs, latched, err
		}
		def, fileLatched, err := decodeTaskDef(data)
		if err != nil {
			return defs, latched, &LatchError{Source: path, Field: "<yaml>", Message: err.Error()}
		}
		if fileLatched {
			latched = true
		}
		defs = append(defs, def)
	}
	return defs, latched, nil
}

func decodeTaskDef(data []byte) (TaskDef, bool, error) {
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return TaskDef{}, false, err
	}

	latched := false
	def := TaskDef{Extra: map[string]any{}}

	if v, ok := raw["name"].(string); ok {
		def.Name = v
	} else {
		latched = true
	}
	if v, ok := raw["priority"]; ok {
		if f, ok := toFloat(v); ok {
			def.Priority = f
		} else {
			latched = true
		}
	}
	if v, ok := raw["description"].(string); ok {
		def.Description = v
	}
	if v, ok := raw["category"].(string); ok {
		def.Category = v
	}
	if v, ok := raw["url"].(string); ok {
		def.URL = v
	}
	if v, ok := raw["upstream"].(string); ok {
		def.Upstream = v
	}
	if v, ok := raw["help_url"].(string); ok {
		def.HelpURL = v
	}
	if v, ok := raw["runner"]; ok {
		spec, ok := toCapabilitySpec(v)
		if !ok {
			latched = true
		}
		def.Runner = spec
	} else {
		latched = true
	}
	if v, ok := raw["schedule"]; ok {
		spec, ok := toCapabilitySpec(v)
		if !ok {
			latched = true
		}
		def.Schedule = spec
	} else {
		latched = true
	}

	for k, v := range raw {
		if !knownTaskKeys[k] {
			def.Extra[k] = v
		}
	}
	return def, latched, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toCapabilitySpec(v any) (CapabilitySpec, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return CapabilitySpec{}, false
	}
	kind, ok := m["kind"].(string)
	if !ok {
		return CapabilitySpec{}, false
	}
	params, _ := m["params"].(map[string]any)
	return CapabilitySpec{Kind: kind, Params: params}, true
}

// BuildTask materializes a TaskDef into a live *task.Task by resolving
// its runner and schedule tags against the registries. The returned
// task is disabled (On: false); the caller (daemon reload) decides
// whether to enable it, matching shine/daemon.py's load_mirrors
// leaving enablement to the reload sequence's orphan-handling step.
func BuildTask(def TaskDef, runners RunnerRegistry, schedules ScheduleRegistry) (*task.Task, error) {
	runnerCtor, ok := runners[def.Runner.Kind]
	if !ok {
		return nil, &LatchError{Source: def.Name, Field: "runner.kind", Message: "unknown runner kind " + def.Runner.Kind}
	}
	runner, err := runnerCtor(def.Runner.Params)
	if err != nil {
		return nil, &LatchError{Source: def.Name, Field: "runner.params", Message: err.Error()}
	}

	schedCtor, ok := schedules[def.Schedule.Kind]
	if !ok {
		return nil, &LatchError{Source: def.Name, Field: "schedule.kind", Message: "unknown schedule kind " + def.Schedule.Kind}
	}
	sched, err := schedCtor(def.Schedule.Params)
	if err != nil {
		return nil, &LatchError{Source: def.Name, Field: "schedule.params", Message: err.Error()}
	}

	t := &task.Task{
		Name:        def.Name,
		Priority:    def.Priority,
		State:       task.Paused,
		Description: def.Description,
		Category:    def.Category,
		URL:         def.URL,
		Upstream:    def.Upstream,
		HelpURL:     def.HelpURL,
		Extra:       def.Extra,
		Runner:      runner,
		ScheduleNext: func(*task.Task) int64 {
			return sched.Next(time.Now()).Unix()
		},
	}
	t.WithDefaults()
	t.NextSched = t.ScheduleNext(t)
	return t, nil
}
