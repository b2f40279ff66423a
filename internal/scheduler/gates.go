package scheduler

import (
	"github.com/jlulug/shined/internal/event"
	"github.com/jlulug/shined/internal/task"
)

// NewConcurrencyGate returns a sched:limit subscriber that vetoes a tick
// once limit tasks are already Syncing. Grounded on
// original_source/example/plugins/concurrent.py (default limit 8).
func NewConcurrencyGate(tasksFn func() []*task.Task, limit int) func(any) {
	if limit <= 0 {
		limit = 8
	}
	return func(arg any) {
		vote, ok := arg.(*event.LimitVote)
		if !ok || vote.Skip {
			return
		}
		running := 0
		for _, t := range tasksFn() {
			t.Lock()
			if t.State == task.Syncing {
				running++
			}
			t.Unlock()
		}
		if running >= limit {
			vote.Skip = true
		}
	}
}

// LoadThreshold is the 1/5/15-minute load-average ceiling; a zero element
// disables that tier's check, matching load.py's "0 = no limit".
type LoadThreshold struct {
	One, Five, Fifteen float64
}

// LoadAverage abstracts os.Getloadavg-equivalent behavior so platforms
// without /proc/loadavg (e.g. Windows) can supply a no-op.
type LoadAverage func() (one, five, fifteen float64, err error)

// NewLoadGate returns a sched:limit subscriber that vetoes a tick when any
// configured, non-zero load-average tier is exceeded. Grounded on
// original_source/example/plugins/load.py.
func NewLoadGate(threshold LoadThreshold, avg LoadAverage) func(any) {
	if avg == nil {
		avg = ReadLoadAverage
	}
	return func(arg any) {
		vote, ok := arg.(*event.LimitVote)
		if !ok || vote.Skip {
			return
		}
		one, five, fifteen, err := avg()
		if err != nil {
			return // best-effort: an unreadable load average never blocks scheduling
		}
		if threshold.One > 0 && one > threshold.One {
			vote.Skip = true
			return
		}
		if threshold.Five > 0 && five > threshold.Five {
			vote.Skip = true
			return
		}
		if threshold.Fifteen > 0 && fifteen > threshold.Fifteen {
			vote.Skip = true
		}
	}
}
