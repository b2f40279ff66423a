// Package scheduler implements the periodic tick loop of spec.md §4.E:
// gating, candidate filtering, weighted selection, and worker dispatch.
// Grounded on internal/dag/executor.go's worker-dispatch pattern and
// internal/dag/scheduler.go's pure candidate-filter style, generalized
// from dependency-graph readiness to the mirror-sync task model, and on
// shine/scheduler.py for the exact tick sequence and startup
// reconciliation story (reconciliation itself lives in
// internal/task.Reconcile, called once by the daemon before Run starts).
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlulug/shined/internal/event"
	"github.com/jlulug/shined/internal/logging"
	"github.com/jlulug/shined/internal/task"
)

// Persister matches task.Persister; redeclared here so scheduler doesn't
// need to import task for a single-method interface satisfaction detail.
type Persister interface {
	Save() bool
}

// Config holds the tunable knobs spec.md §4.E and §9 name.
type Config struct {
	// Interval between ticks; spec.md §4.E: "default 10 (non-integer
	// config → fall back to 10 and log)".
	Interval time.Duration
	// PriorityRatio is the "ratio" in score(t) = priority*ratio + waited
	// (variant (a), the scoring this daemon implements; see DESIGN.md).
	// Default 60.
	PriorityRatio float64
}

// DefaultConfig matches shine/scheduler.py's defaults.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, PriorityRatio: 60}
}

// Scheduler runs the single periodic tick described in spec.md §4.E.
type Scheduler struct {
	cfg   Config
	bus   *event.Bus
	store Persister
	log   *logging.Logger

	tasksFn func() []*task.Task

	mu     sync.Mutex // serializes a single tick's critical section
	wg     sync.WaitGroup
	windup atomic.Bool
}

// New builds a Scheduler. tasksFn returns the current live task-table
// snapshot (the daemon owns the table itself; the scheduler only reads
// it during a tick).
func New(cfg Config, bus *event.Bus, store Persister, log *logging.Logger, tasksFn func() []*task.Task) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.PriorityRatio == 0 {
		cfg.PriorityRatio = 60
	}
	return &Scheduler{cfg: cfg, bus: bus, store: store, log: log, tasksFn: tasksFn}
}

// Reconfigure updates the tunable knobs from a freshly loaded global
// config (spec.md §4.H reload sequence). PriorityRatio takes effect on
// the very next tick; Interval only takes effect the next time Run
// starts a new ticker (a live reload does not retime an already-running
// ticker).
func (s *Scheduler) Reconfigure(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.PriorityRatio == 0 {
		cfg.PriorityRatio = 60
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Windup sets the graceful-shutdown latch (spec.md §3 "Global state",
// §5 "SIGINT → graceful"): the scheduler stops launching new work and
// Run returns once in-flight workers finish.
func (s *Scheduler) Windup() { s.windup.Store(true) }

// Run executes Tick on every Interval until ctx is cancelled or Windup is
// set, then waits for in-flight task workers to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			if s.windup.Load() {
				s.wg.Wait()
				return
			}
			s.Tick(time.Now())
		}
	}
}

// Tick runs one iteration of spec.md §4.E step 3: gate vote, candidate
// filter, weighted selection, dispatch.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vote := &event.LimitVote{}
	s.bus.Publish("sched:limit", vote)
	if vote.Skip {
		return
	}

	s.bus.Publish("sched:pre", nil)

	runnable := s.candidates(now)
	if len(runnable) == 0 {
		return
	}

	s.bus.Publish("sched:select", runnable)

	winner := s.selectWinner(runnable)
	for _, t := range runnable {
		t.Lock()
		if t == winner {
			t.Waited = 0
		} else {
			t.Waited++
		}
		t.Unlock()
	}
	s.store.Save()
	s.bus.Publish("sched:selected", winner)

	s.spawn(winner)
	s.bus.Publish("sched:post", nil)
}

// candidates implements step 3d: runnables = { t | t.on ∧ t.state ≠
// Syncing ∧ t.next_sched ≤ now ∧ t.condition() }.
func (s *Scheduler) candidates(now time.Time) []*task.Task {
	var out []*task.Task
	for _, t := range s.tasksFn() {
		t.Lock()
		ready := t.On && t.State != task.Syncing && t.NextSched <= now.Unix()
		cond := t.Condition
		t.Unlock()
		if ready && (cond == nil || cond(t)) {
			out = append(out, t)
		}
	}
	return out
}

// selectWinner implements variant (a) of spec.md §9:
// score(t) = priority(t)*ratio + waited(t).
func (s *Scheduler) selectWinner(candidates []*task.Task) *task.Task {
	type scored struct {
		t     *task.Task
		score float64
	}
	scores := make([]scored, len(candidates))
	for i, t := range candidates {
		t.Lock()
		scores[i] = scored{t: t, score: t.Priority*s.cfg.PriorityRatio + float64(t.Waited)}
		t.Unlock()
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	return scores[0].t
}

// spawn launches the winning task's lifecycle in a dedicated worker,
// tracked so Run can drain in-flight workers during graceful shutdown.
func (s *Scheduler) spawn(winner *task.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task worker panicked", "task", winner.Name, "recover", r)
			}
		}()
		task.Run(s.bus, s.store, winner)
	}()
}
