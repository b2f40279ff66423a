// Package task defines the Task data model (spec.md §3) and the lifecycle
// state machine each task traverses. Grounded on internal/core/task.go's
// field-tagging discipline and internal/dag/state_machine.go's
// allow-listed transition table, generalized from the teacher's five-state
// DAG node machine to this spec's four-state task machine.
package task

import "sync"

// State is one of the four lifecycle states named in spec.md §3.
type State string

const (
	Paused  State = "Paused"
	Success State = "Success"
	Syncing State = "Syncing"
	Failed  State = "Failed"
)

// Task is a named, independently-scheduled unit of upstream
// synchronization (spec.md §3 "Task"). Callable fields ("capabilities")
// are plain Go function values; see PersistedTask for the subset that
// round-trips through the state store (invariant 5: only scalars,
// strings, lists, and mappings are persisted — never a function value).
type Task struct {
	Name string

	// mu guards every mutable field below. The daemon's own mutex (§5)
	// serializes cross-task scheduling decisions; this one protects a
	// single task's fields during its own lifecycle run, matching the
	// "per-task fields" half of spec.md's "Global reentrant mutex
	// guarding the table and per-task fields."
	mu sync.Mutex

	On         bool
	Priority   float64
	State      State
	LastUpdate int64
	LastStart  int64
	LastFinish int64
	NextSched  int64
	FailCount  int
	Size       uint64

	Description string
	Category    string
	URL         string
	Upstream    string
	HelpURL     string

	// Waited is the scheduler's per-task starvation counter (spec.md
	// §4.E step g/h): the number of consecutive ticks this task was
	// runnable but not chosen. Reset to 0 whenever the task wins a tick.
	Waited int

	// SystemPID is set by the process supervisor while a subprocess is
	// in flight, so Kill (below) has something to signal.
	SystemPID int

	// Capabilities. Runner is mandatory; Pre/Post default to no-ops,
	// Condition to true, and RetryNext to the formula in spec.md §4.D when
	// nil (see WithDefaults). ScheduleNext and Kill stay nil when unset.
	Runner       func(*Task) bool
	ScheduleNext func(*Task) int64
	RetryNext    func(*Task) int64
	Condition    func(*Task) bool
	Pre          func(*Task)
	Post         func(*Task)
	Kill         func(*Task) bool

	// Extra holds configuration-defined keys that are neither a built-in
	// field nor a recognized capability (spec.md §9, "Dynamic __getattr__
	// stash" → explicit extra bag). Visible to publishers.
	Extra map[string]any
}

// Lock / Unlock expose the per-task mutex to the lifecycle engine and
// control server, which must hold it across a read-modify-write sequence
// (e.g. "enable sets next_sched = now if the task was paused").
func (t *Task) Lock()   { t.mu.Lock() }
func (t *Task) Unlock() { t.mu.Unlock() }

// Active reports whether a worker is currently executing this task,
// mirroring shine/task.py's `active` property (`state == Syncing`).
// Caller must hold the lock.
func (t *Task) Active() bool { return t.State == Syncing }

// WithDefaults fills in the no-op/default capabilities spec.md §3
// specifies for a task definition that didn't supply one.
func (t *Task) WithDefaults() {
	if t.Condition == nil {
		t.Condition = func(*Task) bool { return true }
	}
	if t.Pre == nil {
		t.Pre = func(*Task) {}
	}
	if t.Post == nil {
		t.Post = func(*Task) {}
	}
	if t.RetryNext == nil {
		t.RetryNext = DefaultRetryNext
	}
}

// PersistedTask is the JSON projection of Task used by the state store,
// restricted to exactly the fields spec.md §3's data-model table marks
// kind=persisted: on, state, last_update, last_start, last_finish,
// next_sched, fail_count, size. Everything else (priority, description,
// category, url, upstream, help_url, extra) is kind=config or
// config/runtime and comes from the task definition on every reload —
// persisting it here would let a stale state.json snapshot silently
// override a deliberate config change on the next restart.
type PersistedTask struct {
	Name       string `json:"name"`
	On         bool   `json:"on"`
	State      State  `json:"state"`
	LastUpdate int64  `json:"last_update"`
	LastStart  int64  `json:"last_start"`
	LastFinish int64  `json:"last_finish"`
	NextSched  int64  `json:"next_sched"`
	FailCount  int    `json:"fail_count"`
	Size       uint64 `json:"size,omitempty"`
}

// ToPersisted projects the live Task down to its durable fields. Caller
// must hold the lock.
func (t *Task) ToPersisted() PersistedTask {
	return PersistedTask{
		Name:       t.Name,
		On:         t.On,
		State:      t.State,
		LastUpdate: t.LastUpdate,
		LastStart:  t.LastStart,
		LastFinish: t.LastFinish,
		NextSched:  t.NextSched,
		FailCount:  t.FailCount,
		Size:       t.Size,
	}
}

// ApplyPersisted restores the durable fields onto a live Task (used when
// loading state at startup). Caller must hold the lock.
func (t *Task) ApplyPersisted(p PersistedTask) {
	t.On = p.On
	t.State = p.State
	t.LastUpdate = p.LastUpdate
	t.LastStart = p.LastStart
	t.LastFinish = p.LastFinish
	t.NextSched = p.NextSched
	t.FailCount = p.FailCount
	t.Size = p.Size
}
