package config

import (
	"fmt"
	"time"

	"github.com/jlulug/shined/internal/logging"
	"github.com/jlulug/shined/internal/publish"
	"github.com/jlulug/shined/internal/runner"
	"github.com/jlulug/shined/internal/schedule"
	"github.com/jlulug/shined/internal/scheduler"
	"github.com/jlulug/shined/internal/task"
)

// BuiltinRunnerRegistry seeds the "rsync" runner.kind tag a task
// definition may reference (spec.md §2, supplemented). log is attached to
// every constructed runner so a failed sync's rsync exit code reaches the
// daemon's own log stream; it may be nil.
func BuiltinRunnerRegistry(log *logging.Logger) RunnerRegistry {
	return RunnerRegistry{
		"rsync": func(params map[string]any) (func(*task.Task) bool, error) {
			return runner.FromParams(params, log)
		},
	}
}

// BuiltinScheduleRegistry seeds the "interval" and "cron" schedule.kind
// tags a task definition may reference (spec.md §4.B).
func BuiltinScheduleRegistry() ScheduleRegistry {
	return ScheduleRegistry{
		"interval": func(params map[string]any) (schedule.Schedule, error) {
			period, err := paramDuration(params, "period")
			if err != nil {
				return nil, err
			}
			jitter, _ := paramDuration(params, "jitter")
			hours, _ := params["allowed_hours"].(string)
			return schedule.NewInterval(period, jitter, hours)
		},
		"cron": func(params map[string]any) (schedule.Schedule, error) {
			spec, ok := params["spec"].(string)
			if !ok {
				return nil, fmt.Errorf("config: cron schedule requires string param \"spec\"")
			}
			return schedule.NewCron(spec)
		},
	}
}

func paramDuration(params map[string]any, key string) (time.Duration, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("config: missing duration param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("config: param %q must be a string duration", key)
	}
	return schedule.ParseDuration(s)
}

// BuiltinPluginRegistry seeds the plugin kinds spec.md §4.E/§I name:
// "concurrency-gate" and "load-gate" (scheduler gates), plus
// "tunasync-publisher" and "mirrorz-publisher" (status publishers, §I —
// event subscribers, loaded and cleared on reload exactly like any other
// plugin, not wired ad hoc by the entrypoint). tasksFn supplies the live
// task table at dispatch time; defaultAPIDir is the directory a publisher
// writes to when its manifest doesn't override it with a "dir" param.
func BuiltinPluginRegistry(tasksFn func() []*task.Task, defaultAPIDir string) PluginRegistry {
	return PluginRegistry{
		"concurrency-gate": func(params map[string]any) (func(any), error) {
			limit := 8
			if v, ok := toFloat(params["limit"]); ok {
				limit = int(v)
			}
			return scheduler.NewConcurrencyGate(tasksFn, limit), nil
		},
		"load-gate": func(params map[string]any) (func(any), error) {
			var th scheduler.LoadThreshold
			if v, ok := toFloat(params["one"]); ok {
				th.One = v
			}
			if v, ok := toFloat(params["five"]); ok {
				th.Five = v
			}
			if v, ok := toFloat(params["fifteen"]); ok {
				th.Fifteen = v
			}
			return scheduler.NewLoadGate(th, scheduler.ReadLoadAverage), nil
		},
		"tunasync-publisher": func(params map[string]any) (func(any), error) {
			dir := defaultAPIDir
			if v, ok := params["dir"].(string); ok && v != "" {
				dir = v
			}
			return publish.NewTunasyncPublisher(dir, tasksFn), nil
		},
		"mirrorz-publisher": func(params map[string]any) (func(any), error) {
			dir := defaultAPIDir
			if v, ok := params["dir"].(string); ok && v != "" {
				dir = v
			}
			site, _ := params["site"].(map[string]any)
			return publish.NewMirrorzPublisher(dir, site, tasksFn), nil
		},
	}
}

// BuiltinPluginTopics names the topic each built-in plugin kind expects
// to be wired to, for daemons that register plugins programmatically
// rather than via a YAML manifest's own "topic" field.
var BuiltinPluginTopics = map[string]string{
	"concurrency-gate":   "sched:limit",
	"load-gate":          "sched:limit",
	"tunasync-publisher": ":save",
	"mirrorz-publisher":  ":save",
}
