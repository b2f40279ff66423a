package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlulug/shined/internal/logging"
	"github.com/jlulug/shined/internal/task"
)

func newTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"config", "state", "runtime", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	d := New(Options{
		ConfigDir:  filepath.Join(dir, "config"),
		StateDir:   filepath.Join(dir, "state"),
		RuntimeDir: filepath.Join(dir, "runtime"),
		LogsDir:    filepath.Join(dir, "logs"),
		SocketPath: filepath.Join(dir, "runtime", "shined.sock"),
		Log:        logging.New(logging.Options{Quiet: true}),
	})
	return d, dir
}

func writeTaskDef(t *testing.T, configDir, name, contents string) {
	t.Helper()
	dir := filepath.Join(configDir, "tasks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadLoadsTasksAndSavesState(t *testing.T) {
	d, dir := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "debian", `
name: debian
priority: 1
runner:
  kind: rsync
  params:
    upstream: "rsync://example.org/debian/"
    local: `+filepath.Join(dir, "mirror")+`
schedule:
  kind: interval
  params:
    period: 1h
`)

	if ok := d.reload(); !ok {
		t.Fatal("expected reload to succeed")
	}
	tasks := d.Tasks()
	if len(tasks) != 1 || tasks[0].Name != "debian" {
		t.Fatalf("got %+v", tasks)
	}
	if _, err := os.Stat(filepath.Join(d.opts.StateDir, "state.json")); err != nil {
		t.Fatalf("expected reload to persist state: %v", err)
	}
}

func TestReloadOrphansTasksNotReseen(t *testing.T) {
	d, dir := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "debian", `
name: debian
priority: 1
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "`+filepath.Join(dir, "m1")+`"}}
schedule: {kind: interval, params: {period: 1h}}
`)
	if ok := d.reload(); !ok {
		t.Fatal("first reload should succeed")
	}

	if err := os.Remove(filepath.Join(d.opts.ConfigDir, "tasks", "debian.yaml")); err != nil {
		t.Fatal(err)
	}
	writeTaskDef(t, d.opts.ConfigDir, "ubuntu", `
name: ubuntu
priority: 1
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "`+filepath.Join(dir, "m2")+`"}}
schedule: {kind: interval, params: {period: 1h}}
`)
	if ok := d.reload(); !ok {
		t.Fatal("second reload should succeed")
	}

	debian := d.find("debian")
	if debian == nil {
		t.Fatal("orphaned task should remain in the table")
	}
	debian.Lock()
	on := debian.On
	debian.Unlock()
	if on {
		t.Fatal("orphaned task must have on forced to false")
	}

	ubuntu := d.find("ubuntu")
	ubuntu.Lock()
	on = ubuntu.On
	ubuntu.Unlock()
	if !on {
		t.Fatal("re-seen task must remain enabled")
	}
}

func TestReloadSetsLatchOnUnknownRunnerKind(t *testing.T) {
	d, _ := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "bogus", `
name: bogus
priority: 1
runner: {kind: no-such-runner, params: {}}
schedule: {kind: interval, params: {period: 1h}}
`)
	if ok := d.reload(); ok {
		t.Fatal("expected reload to fail for an unknown runner kind")
	}
	if !d.loadErr.Load() {
		t.Fatal("expected the load-error latch to be set")
	}
	if d.Save() {
		t.Fatal("save must refuse while the load-error latch is set")
	}
}

func TestSaveSucceedsAfterLatchClearsOnNextReload(t *testing.T) {
	d, _ := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "bogus", `
name: bogus
runner: {kind: no-such-runner, params: {}}
schedule: {kind: interval, params: {period: 1h}}
`)
	d.reload()
	if !d.loadErr.Load() {
		t.Fatal("expected latch set after malformed reload")
	}

	if err := os.Remove(filepath.Join(d.opts.ConfigDir, "tasks", "bogus.yaml")); err != nil {
		t.Fatal(err)
	}
	if ok := d.reload(); !ok {
		t.Fatal("expected a clean reload to succeed")
	}
	if !d.Save() {
		t.Fatal("save should succeed once the latch clears on a clean reload")
	}
}

func TestEnableResetsNextSchedWhenPaused(t *testing.T) {
	d, dir := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "debian", `
name: debian
priority: 1
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "`+filepath.Join(dir, "m")+`"}}
schedule: {kind: interval, params: {period: 1h}}
`)
	d.reload()
	d.Disable("debian")
	before := time.Now().Unix()
	got := d.Enable("debian")
	if got != "enabled debian\n" {
		t.Fatalf("got %q", got)
	}
	debian := d.find("debian")
	debian.Lock()
	next := debian.NextSched
	debian.Unlock()
	if next < before || next > time.Now().Unix() {
		t.Fatalf("next_sched = %d, want reset to now (>= %d)", next, before)
	}
}

func TestDisableSurvivesReloadOfReseenTask(t *testing.T) {
	d, dir := newTestDaemon(t)
	def := `
name: debian
priority: 1
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "` + filepath.Join(dir, "m") + `"}}
schedule: {kind: interval, params: {period: 1h}}
`
	writeTaskDef(t, d.opts.ConfigDir, "debian", def)
	if ok := d.reload(); !ok {
		t.Fatal("first reload should succeed")
	}
	d.Disable("debian")

	// The task file is unchanged, so debian is re-seen, not orphaned.
	if ok := d.reload(); !ok {
		t.Fatal("second reload should succeed")
	}

	debian := d.find("debian")
	debian.Lock()
	on := debian.On
	debian.Unlock()
	if on {
		t.Fatal("a re-seen task's prior disable must survive reload")
	}
}

func TestLoadPersistedStateDoesNotRevertConfigFields(t *testing.T) {
	d, dir := newTestDaemon(t)
	writeTaskDef(t, d.opts.ConfigDir, "debian", `
name: debian
priority: 1
description: old description
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "`+filepath.Join(dir, "m")+`"}}
schedule: {kind: interval, params: {period: 1h}}
`)
	if ok := d.reload(); !ok {
		t.Fatal("first reload should succeed")
	}
	if !d.Save() {
		t.Fatal("save should succeed")
	}

	// Operator edits the task config (priority, description) before the
	// next restart.
	writeTaskDef(t, d.opts.ConfigDir, "debian", `
name: debian
priority: 9
description: new description
runner: {kind: rsync, params: {upstream: "rsync://x/", local: "`+filepath.Join(dir, "m")+`"}}
schedule: {kind: interval, params: {period: 1h}}
`)

	// Start()'s actual sequence: reload (rebuilds from the new config),
	// then loadPersistedState (restores the old state.json on top). Config-
	// kind fields must still reflect the new config afterward.
	if ok := d.reload(); !ok {
		t.Fatal("second reload should succeed")
	}
	if err := d.loadPersistedState(); err != nil {
		t.Fatalf("loading persisted state: %v", err)
	}

	debian := d.find("debian")
	debian.Lock()
	defer debian.Unlock()
	if debian.Priority != 9 || debian.Description != "new description" {
		t.Fatalf("persisted state must not override config-kind fields, got priority=%v description=%q", debian.Priority, debian.Description)
	}
}

func TestRemoveRefusesWhileRunning(t *testing.T) {
	d, _ := newTestDaemon(t)
	running := &task.Task{Name: "x", State: task.Syncing, On: true}
	running.WithDefaults()

	d.mu.Lock()
	d.tasks["x"] = running
	d.mu.Unlock()

	got := d.Remove("x")
	if got != "refused: task is running\n" {
		t.Fatalf("got %q", got)
	}
}
