package task

import (
	"time"
)

// Persister is the narrow interface the lifecycle engine needs from the
// daemon's state store: persist the whole task table. Run calls Save
// with t's lock released, since the daemon's Save locks every task
// itself. Defined here (not imported from internal/statestore) to avoid a
// dependency cycle between task and statestore/daemon.
type Persister interface {
	Save() bool
}

// Publisher is the narrow interface the lifecycle engine needs from the
// event bus.
type Publisher interface {
	Publish(topic string, arg any)
}

// DefaultRetryNext implements spec.md §4.D's retry backoff default:
// min(schedule_next(task), now + 30*2^fail_count), "capped by the next
// natural schedule so the task never drifts past its normal cadence."
// Grounded on shine/task.py's retry().
func DefaultRetryNext(t *Task) int64 {
	now := time.Now().Unix()
	backoff := int64(30)
	for i := 0; i < t.FailCount && i < 62; i++ {
		backoff *= 2
	}
	natural := now
	if t.ScheduleNext != nil {
		natural = t.ScheduleNext(t)
	}
	candidate := now + backoff
	if candidate < natural {
		return candidate
	}
	return natural
}

// Run drives one complete run of t's lifecycle, per the 11-step sequence
// of spec.md §4.D. It is grounded on shine/task.py's thread() method for
// the exact lock/emit ordering, and on internal/dag/state_machine.go's
// Transition discipline for the state changes themselves.
//
// Run must be invoked with t not locked; it manages t's own lock
// internally across each critical section, exactly as spec.md §5
// requires ("Workers hold it only across short critical sections...
// Long operations... are done without the lock held").
func Run(bus Publisher, store Persister, t *Task) {
	t.Lock()
	if t.State == Syncing {
		t.Unlock()
		return // exclusivity: spec.md §4.D step 1
	}
	if err := Transition(t, t.State, Syncing); err != nil {
		t.Unlock()
		return
	}
	t.LastStart = time.Now().Unix()
	t.Unlock()
	store.Save()

	bus.Publish("task:pre", t)
	safeCall(t.Pre, t)

	ok := safeRunner(t.Runner, t)

	t.Lock()
	now := time.Now().Unix()
	if ok {
		_ = Transition(t, Syncing, Success)
		t.LastUpdate = now
		if t.ScheduleNext != nil {
			t.NextSched = t.ScheduleNext(t)
		}
		t.FailCount = 0
		bus.Publish("task:success", t)
	} else {
		_ = Transition(t, Syncing, Failed)
		if t.RetryNext != nil {
			t.NextSched = t.RetryNext(t)
		}
		t.FailCount++
		bus.Publish("task:fail", t)
	}
	if !t.On {
		// Disabled mid-run (spec.md §4.D step 9): override to Paused
		// rather than leaving Success/Failed as the terminal state.
		t.State = Paused
	}
	t.LastFinish = time.Now().Unix()
	t.Unlock()
	store.Save()

	safeCall(t.Post, t)
	bus.Publish("task:post", t)
}

func safeCall(fn func(*Task), t *Task) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(t)
}

// safeRunner invokes t's Runner capability, treating a panic the same as a
// false return (spec.md §4.D step 5: "Exceptions count as false").
func safeRunner(runner func(*Task) bool, t *Task) (ok bool) {
	if runner == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return runner(t)
}

// Reconcile implements spec.md §4.E's startup reconciliation: every task
// observed Syncing in persisted state is moved to Failed, with
// last_finish = now and next_sched recomputed via retry_next. Grounded on
// shine/scheduler.py's start-of-day consistency fix.
func Reconcile(tasks []*Task) {
	now := time.Now().Unix()
	for _, t := range tasks {
		t.Lock()
		if t.State == Syncing {
			t.State = Failed
			t.LastFinish = now
			if t.RetryNext != nil {
				t.NextSched = t.RetryNext(t)
			}
		}
		t.Unlock()
	}
}
