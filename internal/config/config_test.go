package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlulug/shined/internal/event"
	"github.com/jlulug/shined/internal/task"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadGlobalMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGlobal(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultGlobal()
	if g != want {
		t.Fatalf("got %+v, want defaults %+v", g, want)
	}
}

func TestLoadGlobalOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "interval: 30s\nconcurrency: 4\npriority_ratio: 20\nload_threshold: [1.0, 2.0, 3.0]\n")

	g, err := LoadGlobal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if g.Interval != 30*time.Second || g.Concurrency != 4 || g.PriorityRatio != 20 {
		t.Fatalf("got %+v", g)
	}
	if g.LoadThreshold != [3]float64{1.0, 2.0, 3.0} {
		t.Fatalf("load threshold = %v", g.LoadThreshold)
	}
}

func TestLoadGlobalRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "bogus_field: 1\n")
	if _, err := LoadGlobal(dir); err == nil {
		t.Fatal("expected an error for an unknown config.yaml field")
	}
}

func TestLoadTasksParsesRunnerAndScheduleAndExtra(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "debian.yaml"), `
name: debian
priority: 2
description: Debian archive mirror
runner:
  kind: rsync
  params:
    upstream: "rsync://example.org/debian/"
schedule:
  kind: interval
  params:
    period: 1h
owner: infra-team
`)

	defs, latched, err := LoadTasks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if latched {
		t.Fatal("well-formed file should not set the load-error latch")
	}
	if len(defs) != 1 {
		t.Fatalf("got %d defs, want 1", len(defs))
	}
	d := defs[0]
	if d.Name != "debian" || d.Priority != 2 || d.Runner.Kind != "rsync" || d.Schedule.Kind != "interval" {
		t.Fatalf("got %+v", d)
	}
	if d.Extra["owner"] != "infra-team" {
		t.Fatalf("expected extra key 'owner' to round-trip, got %+v", d.Extra)
	}
}

func TestLoadTasksLatchesOnMalformedPriority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "bad.yaml"), `
name: bad
priority: "not-a-number"
runner:
  kind: rsync
  params: {}
schedule:
  kind: interval
  params:
    period: 1h
`)
	defs, latched, err := LoadTasks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !latched {
		t.Fatal("expected the load-error latch to be set for a malformed priority field")
	}
	if len(defs) != 1 || defs[0].Name != "bad" {
		t.Fatalf("the rest of the file should still load: %+v", defs)
	}
}

func TestBuildTaskResolvesRegistriesAndSeedsNextSched(t *testing.T) {
	runners := RunnerRegistry{
		"noop": func(map[string]any) (func(*task.Task) bool, error) {
			return func(*task.Task) bool { return true }, nil
		},
	}
	schedules := BuiltinScheduleRegistry()

	def := TaskDef{
		Name:     "example",
		Priority: 1,
		Runner:   CapabilitySpec{Kind: "noop"},
		Schedule: CapabilitySpec{Kind: "interval", Params: map[string]any{"period": "1h"}},
	}
	tk, err := BuildTask(def, runners, schedules)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Name != "example" || tk.Runner == nil || tk.NextSched == 0 {
		t.Fatalf("got %+v", tk)
	}
}

func TestBuildTaskUnknownRunnerKindErrors(t *testing.T) {
	_, err := BuildTask(TaskDef{Runner: CapabilitySpec{Kind: "missing"}}, RunnerRegistry{}, ScheduleRegistry{})
	if err == nil {
		t.Fatal("expected an error for an unregistered runner kind")
	}
}

func TestLoadPluginsClearsAndResubscribes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugins", "limit.yaml"), `
kind: concurrency-gate
topic: sched:limit
params:
  limit: 2
`)

	bus := event.New(nil)
	stale := false
	bus.Subscribe("sched:limit", func(any) { stale = true })

	registry := BuiltinPluginRegistry(func() []*task.Task { return nil }, t.TempDir())
	if err := LoadPlugins(dir, registry, bus); err != nil {
		t.Fatal(err)
	}

	bus.Publish("sched:limit", &event.LimitVote{})
	if stale {
		t.Fatal("LoadPlugins must Clear() the bus before re-subscribing")
	}
}

func TestBuiltinPluginRegistryWritesTunasyncJSONOnSave(t *testing.T) {
	apiDir := t.TempDir()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugins", "status.yaml"), `
kind: tunasync-publisher
topic: ":save"
`)

	tk := &task.Task{Name: "debian", State: task.Success}
	bus := event.New(nil)
	registry := BuiltinPluginRegistry(func() []*task.Task { return []*task.Task{tk} }, apiDir)
	if err := LoadPlugins(dir, registry, bus); err != nil {
		t.Fatal(err)
	}

	bus.Publish(":save", nil)
	if _, err := os.Stat(filepath.Join(apiDir, "tunasync.json")); err != nil {
		t.Fatalf("expected tunasync-publisher plugin to render tunasync.json: %v", err)
	}
}

func TestBuiltinPluginRegistrySurvivesReloadClear(t *testing.T) {
	apiDir := t.TempDir()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugins", "status.yaml"), `
kind: mirrorz-publisher
topic: ":save"
`)

	bus := event.New(nil)
	registry := BuiltinPluginRegistry(func() []*task.Task { return nil }, apiDir)

	// Reload twice: the publisher must still be subscribed after the
	// second LoadPlugins clears the bus, since it is re-read from the same
	// manifest rather than registered once outside the plugin system.
	if err := LoadPlugins(dir, registry, bus); err != nil {
		t.Fatal(err)
	}
	if err := LoadPlugins(dir, registry, bus); err != nil {
		t.Fatal(err)
	}

	bus.Publish(":save", nil)
	if _, err := os.Stat(filepath.Join(apiDir, "mirrorz.json")); err != nil {
		t.Fatalf("expected mirrorz-publisher plugin to survive a reload: %v", err)
	}
}
