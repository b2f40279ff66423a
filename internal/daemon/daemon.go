// Package daemon wires together the event bus, task table, scheduler,
// state store, configuration loader, and control server into the single
// running process spec.md describes (§2, §5). Grounded on
// shine/daemon.py's Daemon class for the field set and method sequencing,
// and on internal/dag/executor.go for the worker/lock-discipline shape it
// was generalized from.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jlulug/shined/internal/config"
	"github.com/jlulug/shined/internal/control"
	"github.com/jlulug/shined/internal/daemonerr"
	"github.com/jlulug/shined/internal/event"
	"github.com/jlulug/shined/internal/logging"
	"github.com/jlulug/shined/internal/scheduler"
	"github.com/jlulug/shined/internal/statestore"
	"github.com/jlulug/shined/internal/supervisor"
	"github.com/jlulug/shined/internal/task"
)

// Options configures a Daemon, one field per spec.md §6 directory/flag.
type Options struct {
	ConfigDir  string
	StateDir   string
	RuntimeDir string
	LogsDir    string
	SocketPath string
	Log        *logging.Logger
}

// Daemon owns every piece of daemon-global state explicitly (spec.md §3
// "Global state (no package-level singletons; the daemon owns these)").
type Daemon struct {
	opts Options
	log  *logging.Logger

	bus   *event.Bus
	store *statestore.Store
	sched *scheduler.Scheduler
	ctl   *control.Server

	runners   config.RunnerRegistry
	schedules config.ScheduleRegistry
	plugins   config.PluginRegistry

	mu    sync.Mutex // the single lock guarding the task table (spec.md §5)
	tasks map[string]*task.Task

	loadErr atomic.Bool

	// killRequested is signaled by Kill (the "KiLL" control verb) and read
	// by cmd/shined's signal-handling loop to trigger immediate shutdown
	// the same way SIGTERM does.
	killRequested chan struct{}
}

// New builds a Daemon with its supporting registries seeded from the
// built-ins (internal/runner's rsync capability, internal/schedule's
// interval/cron evaluators, internal/scheduler's gates).
func New(opts Options) *Daemon {
	if opts.Log == nil {
		opts.Log = logging.New(logging.Options{})
	}
	d := &Daemon{
		opts:      opts,
		log:       opts.Log,
		bus:       event.New(opts.Log),
		store:     &statestore.Store{Path: filepath.Join(opts.StateDir, "state.json")},
		runners:       config.BuiltinRunnerRegistry(opts.Log),
		schedules:     config.BuiltinScheduleRegistry(),
		tasks:         make(map[string]*task.Task),
		killRequested: make(chan struct{}, 1),
	}
	d.plugins = config.BuiltinPluginRegistry(d.Tasks, filepath.Join(opts.RuntimeDir, "api"))
	d.sched = scheduler.New(scheduler.DefaultConfig(), d.bus, d, opts.Log, d.Tasks)
	d.ctl = &control.Server{Path: opts.SocketPath, Commands: d, Log: opts.Log}
	return d
}

// Tasks returns a snapshot slice of the live task table. Exported so
// scheduler gates and publishers, which only need read access, don't
// require their own lock on d.mu.
func (d *Daemon) Tasks() []*task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*task.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t)
	}
	return out
}

// Bus exposes the event bus for tests and diagnostics; production
// subscribers (gates, status publishers) are wired entirely through
// config.LoadPlugins during reload, not by callers reaching in directly.
func (d *Daemon) Bus() *event.Bus { return d.bus }

// Start binds the control socket, performs the initial load+reload, runs
// startup reconciliation, and returns once every long-running goroutine
// has been launched. Callers run Wait(ctx) to block until shutdown.
func (d *Daemon) Start() error {
	if err := d.ctl.Listen(); err != nil {
		return &daemonerr.SocketBindError{Path: d.opts.SocketPath, Cause: err}
	}
	if ok := d.reload(); !ok {
		return fmt.Errorf("daemon: initial reload failed, see logs")
	}
	if err := d.loadPersistedState(); err != nil {
		return fmt.Errorf("daemon: loading persisted state: %w", err)
	}
	task.Reconcile(d.Tasks())
	return nil
}

// Wait runs the scheduler loop and control-server accept loop under an
// errgroup.Group (spec.md §5's three supervised long-running goroutines;
// signal handling is wired by the caller via Reload/Windup/KillAll).
// Grounded on 88lin-divinesense's use of the same library for its own
// supervised goroutines.
func (d *Daemon) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		d.ctl.Serve()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = d.ctl.Close()
		return nil
	})
	return g.Wait()
}

func (d *Daemon) loadPersistedState() error {
	persisted, err := d.store.Load()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range persisted {
		if t, ok := d.tasks[p.Name]; ok {
			t.Lock()
			t.ApplyPersisted(p)
			t.Unlock()
		}
	}
	return nil
}

// Save implements task.Persister/scheduler.Persister (spec.md §4.G):
// refuses under the load-error latch, else publishes :save and writes
// the state file atomically.
func (d *Daemon) Save() bool {
	if d.loadErr.Load() {
		d.log.Warn("save refused: load-error latch is set")
		return false
	}
	d.bus.Publish(":save", nil)

	tasks := d.Tasks()
	persisted := make([]task.PersistedTask, 0, len(tasks))
	for _, t := range tasks {
		t.Lock()
		persisted = append(persisted, t.ToPersisted())
		t.Unlock()
	}
	if err := d.store.Save(persisted); err != nil {
		d.log.Error("persistence error", "error", (&daemonerr.PersistenceError{Op: "save", Cause: err}).Error())
		return false
	}
	return true
}

// Reload implements control.Commands.Reload and spec.md §4.H's sequence:
// :reload → plugins → config → tasks → save → :load. Returns a
// human-readable reply for the control socket.
func (d *Daemon) Reload() string {
	if d.reload() {
		return "reload ok\n"
	}
	return "reload failed: load-error latch set, see daemon log\n"
}

func (d *Daemon) reload() bool {
	d.loadErr.Store(false)
	d.bus.Publish(":reload", nil)

	if err := config.LoadPlugins(d.opts.ConfigDir, d.plugins, d.bus); err != nil {
		d.loadErr.Store(true)
		d.log.Error("plugin load failed", "error", err)
	}
	d.bus.Publish(":plugins_load", nil)

	global, err := config.LoadGlobal(d.opts.ConfigDir)
	if err != nil {
		d.loadErr.Store(true)
		d.log.Error("config load failed", "error", err)
		global = config.DefaultGlobal()
	}
	d.sched.Reconfigure(scheduler.Config{Interval: global.Interval, PriorityRatio: global.PriorityRatio})
	d.bus.Publish(":config_load", nil)

	defs, latched, err := config.LoadTasks(d.opts.ConfigDir)
	if err != nil {
		d.loadErr.Store(true)
		d.log.Error("task load failed", "error", err)
	}
	if latched {
		d.loadErr.Store(true)
	}
	d.applyTaskDefs(defs)
	d.bus.Publish(":tasks_load", nil)

	d.Save()
	d.bus.Publish(":load", nil)
	return !d.loadErr.Load()
}

// applyTaskDefs materializes each definition into the live table,
// preserving an existing task's runtime fields (on, state, timers, fail
// count) when it is re-seen — an operator's `disable <task>` must survive
// a reload — and forcing on=false only for orphans: tasks present in the
// table but not named by this reload's definitions (spec.md §4.H). A
// re-seen task's on is never forced to true; only enable/new-task creation
// does that. Grounded on shine/daemon.py's load_mirrors.
func (d *Daemon) applyTaskDefs(defs []config.TaskDef) {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		built, err := config.BuildTask(def, d.runners, d.schedules)
		if err != nil {
			d.loadErr.Store(true)
			d.log.Error("building task failed", "task", def.Name, "error", err)
			continue
		}
		seen[def.Name] = true

		d.mu.Lock()
		if existing, ok := d.tasks[def.Name]; ok {
			existing.Lock()
			existing.Priority = built.Priority
			existing.Description = built.Description
			existing.Category = built.Category
			existing.URL = built.URL
			existing.Upstream = built.Upstream
			existing.HelpURL = built.HelpURL
			existing.Extra = built.Extra
			existing.Runner = built.Runner
			existing.ScheduleNext = built.ScheduleNext
			existing.Unlock()
		} else {
			built.On = true
			d.tasks[def.Name] = built
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	for name, t := range d.tasks {
		if !seen[name] {
			t.Lock()
			t.On = false
			t.Unlock()
		}
	}
	d.mu.Unlock()
}

// Show implements control.Commands.Show (spec.md §4.F).
func (d *Daemon) Show() string {
	now := time.Now().Unix()
	tasks := d.Tasks()
	rows := make([]control.Row, 0, len(tasks))
	for _, t := range tasks {
		t.Lock()
		rows = append(rows, control.Row{
			Name: t.Name, Status: string(t.State), LastFinish: t.LastFinish,
			NextSched: t.NextSched, Running: t.State == task.Syncing,
			LastStart: t.LastStart, FailCount: t.FailCount, Disabled: !t.On,
		})
		t.Unlock()
	}
	return control.FormatShowTable(rows, now)
}

// Info implements control.Commands.Info: a multi-line dump of every
// persisted-visible field (spec.md §4.F: "all non-underscore fields").
func (d *Daemon) Info(name string) (string, bool) {
	t := d.find(name)
	if t == nil {
		return "", false
	}
	t.Lock()
	defer t.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", t.Name)
	fmt.Fprintf(&b, "on: %t\n", t.On)
	fmt.Fprintf(&b, "priority: %g\n", t.Priority)
	fmt.Fprintf(&b, "state: %s\n", t.State)
	fmt.Fprintf(&b, "last_update: %d\n", t.LastUpdate)
	fmt.Fprintf(&b, "last_start: %d\n", t.LastStart)
	fmt.Fprintf(&b, "last_finish: %d\n", t.LastFinish)
	fmt.Fprintf(&b, "next_sched: %d\n", t.NextSched)
	fmt.Fprintf(&b, "fail_count: %d\n", t.FailCount)
	fmt.Fprintf(&b, "size: %d\n", t.Size)
	fmt.Fprintf(&b, "description: %s\n", t.Description)
	fmt.Fprintf(&b, "category: %s\n", t.Category)
	fmt.Fprintf(&b, "url: %s\n", t.URL)
	fmt.Fprintf(&b, "upstream: %s\n", t.Upstream)
	fmt.Fprintf(&b, "help_url: %s\n", t.HelpURL)
	names := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "extra.%s: %v\n", k, t.Extra[k])
	}
	return b.String(), true
}

func (d *Daemon) find(name string) *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks[name]
}

// Start implements control.Commands.Start: spawn the lifecycle worker
// for name now, unless already running.
func (d *Daemon) Start(name string) string {
	t := d.find(name)
	if t == nil {
		return "no such task: " + name + "\n"
	}
	t.Lock()
	running := t.Active()
	t.Unlock()
	if running {
		return "already running\n"
	}
	go task.Run(d.bus, d, t)
	return "started " + name + "\n"
}

// Stop implements control.Commands.Stop: invoke the registered kill
// capability if the task is running.
func (d *Daemon) Stop(name string) string {
	t := d.find(name)
	if t == nil {
		return "no such task: " + name + "\n"
	}
	t.Lock()
	running := t.Active()
	kill := t.Kill
	pid := t.SystemPID
	t.Unlock()
	if !running {
		return "not running\n"
	}
	if kill != nil {
		if kill(t) {
			return "stopped " + name + "\n"
		}
		return "stop failed\n"
	}
	if pid != 0 {
		if err := supervisor.Kill(pid); err == nil {
			return "stopped " + name + "\n"
		}
	}
	return "no kill capability registered\n"
}

// Enable implements control.Commands.Enable: flips on, and if the task
// was paused, resets next_sched to now so it becomes immediately
// runnable (spec.md §4.F).
func (d *Daemon) Enable(name string) string {
	t := d.find(name)
	if t == nil {
		return "no such task: " + name + "\n"
	}
	t.Lock()
	wasPaused := t.State == task.Paused
	t.On = true
	if wasPaused {
		t.NextSched = time.Now().Unix()
	}
	t.Unlock()
	return "enabled " + name + "\n"
}

// Disable implements control.Commands.Disable.
func (d *Daemon) Disable(name string) string {
	t := d.find(name)
	if t == nil {
		return "no such task: " + name + "\n"
	}
	t.Lock()
	t.On = false
	t.Unlock()
	return "disabled " + name + "\n"
}

// Remove implements control.Commands.Remove: refuses while running.
func (d *Daemon) Remove(name string) string {
	t := d.find(name)
	if t == nil {
		return "no such task: " + name + "\n"
	}
	t.Lock()
	running := t.Active()
	t.Unlock()
	if running {
		return "refused: task is running\n"
	}
	d.mu.Lock()
	delete(d.tasks, name)
	d.mu.Unlock()
	return "removed " + name + "\n"
}

// Kill implements control.Commands.Kill: spec.md's case-sensitive "KiLL"
// verb sends SIGTERM to the daemon's own process group. The actual
// signal send is the entrypoint's job (internal/daemon has no business
// calling syscall.Kill(0, ...) itself); Kill only flips the immediate-
// shutdown signal channel the entrypoint is waiting on.
func (d *Daemon) Kill() {
	select {
	case d.killRequested <- struct{}{}:
	default:
	}
}

// KillRequested exposes the channel cmd/shined's signal loop selects on
// to learn that the control socket's "KiLL" verb was invoked.
func (d *Daemon) KillRequested() <-chan struct{} { return d.killRequested }

// Windup sets the scheduler's graceful-shutdown latch (spec.md §5
// "SIGINT → graceful").
func (d *Daemon) Windup() { d.sched.Windup() }

// RunningTasks returns the subset of the table currently Syncing, for
// the immediate-shutdown path's "invoke each running task's kill".
func (d *Daemon) RunningTasks() []*task.Task {
	var out []*task.Task
	for _, t := range d.Tasks() {
		t.Lock()
		if t.Active() {
			out = append(out, t)
		}
		t.Unlock()
	}
	return out
}

// KillAll invokes every running task's registered kill capability (or a
// bare SIGTERM on its pid if none is registered), for spec.md §5's
// SIGTERM-immediate shutdown path.
func (d *Daemon) KillAll() {
	for _, t := range d.RunningTasks() {
		t.Lock()
		kill := t.Kill
		pid := t.SystemPID
		t.Unlock()
		if kill != nil {
			kill(t)
			continue
		}
		if pid != 0 {
			_ = supervisor.Kill(pid)
		}
	}
}
