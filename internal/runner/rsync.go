// Package runner implements concrete task.Runner capabilities. The rsync
// runner is grounded on shine/helpers/rsync.py, rebuilt on top of
// internal/supervisor instead of shine/helpers/system.py's Popen wrapper.
package runner

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jlulug/shined/internal/logging"
	"github.com/jlulug/shined/internal/supervisor"
	"github.com/jlulug/shined/internal/task"
)

// defaultOptions matches shine/helpers/rsync.py's DEFAULT_OPTIONS, minus
// the Python-specific filter-rule quoting quirks (expressed here as
// separate argv elements rather than embedded shell words).
var defaultOptions = []string{
	"-virltpH", "--no-h", "--stats", "--safe-links",
	"--delete-after", "--delay-updates",
	"-f", "-p .~tmp~/", "-f", "R .~tmp~/",
}

// exitCodeMessage mirrors rsync 3.2.6's documented exit codes, used to
// annotate a failed run's log line.
var exitCodeMessage = map[int]string{
	1: "Syntax or usage error", 2: "Protocol incompatibility",
	3: "Errors selecting input/output files, dirs", 4: "Requested action not supported",
	5: "Error starting client-server protocol", 6: "Daemon unable to append to log-file",
	10: "Error in socket I/O", 11: "Error in file I/O",
	12: "Error in rsync protocol data stream", 13: "Errors with program diagnostics",
	14: "Error in IPC code", 20: "Received SIGUSR1 or SIGINT",
	21: "Some error returned by waitpid()", 22: "Error allocating core memory buffers",
	23: "Partial transfer due to error", 24: "Partial transfer due to vanished source files",
	25: "The --max-delete limit stopped deletions", 30: "Timeout in data send/receive",
	35: "Timeout waiting for daemon connection",
}

var totalSizePattern = regexp.MustCompile(`(?m)^Total file size: ([0-9]+) bytes`)

// logExitCode records a failed rsync invocation's exit code and, when
// known, rsync's own documented meaning for it. err takes precedence as
// the failure reason when the process never produced an exit code at all
// (e.g. it was killed before exec'ing).
func logExitCode(log *logging.Logger, taskName, stage string, exitCode int, err error) {
	if log == nil {
		return
	}
	if err != nil {
		log.Error("rsync run failed", "task", taskName, "stage", stage, "error", err)
		return
	}
	msg, known := exitCodeMessage[exitCode]
	if !known {
		msg = "unknown exit code"
	}
	log.Error("rsync exited with error", "task", taskName, "stage", stage, "exit_code", exitCode, "message", msg)
}

// RsyncOptions configures one rsync-backed task.Runner. Grounded on the
// keyword arguments of shine/helpers/rsync.py's Rsync().
type RsyncOptions struct {
	Upstream          string // "ends with /", e.g. "rsync://example.org/debian/"
	Local             string
	Options           []string
	Exclude           []string
	Password          string
	Timeout           time.Duration // 0 = unbounded
	Env               map[string]string
	PreStage          []string
	IOTimeout         time.Duration // passed through as --timeout=<seconds>
	Executable        string
	NoDefaultOptions  bool
	NoExtractSize     bool
	LogDir            string

	// Log receives the exit-code annotation on a failed run (SPEC_FULL.md's
	// failure-log promise, grounded on shine/helpers/rsync.py's
	// log.error(...)). Nil is a valid no-op logger for callers (e.g. tests)
	// that don't care.
	Log *logging.Logger
}

// NewRsync builds the task.Runner closure: two-stage when PreStage is set
// (pre-pass with --delete* options stripped, then the real pass), exit-code
// annotated on failure, and post-success size extraction into task.Size.
func NewRsync(opts RsyncOptions) (func(*task.Task) bool, error) {
	if opts.Upstream == "" || opts.Local == "" {
		return nil, fmt.Errorf("runner: rsync requires upstream and local")
	}
	if opts.Executable == "" {
		opts.Executable = "rsync"
	}
	if opts.IOTimeout == 0 {
		opts.IOTimeout = 300 * time.Second
	}
	if opts.LogDir == "" {
		opts.LogDir = "."
	}

	options := append([]string{}, opts.Options...)
	if opts.IOTimeout > 0 {
		options = append(options, fmt.Sprintf("--timeout=%d", int(opts.IOTimeout.Seconds())))
	}
	if !opts.NoDefaultOptions {
		options = append(append([]string{}, defaultOptions...), options...)
	}

	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	if opts.Password != "" {
		env = append(env, "RSYNC_PASSWORD="+opts.Password)
	}

	argv := buildArgv(opts.Executable, options, opts.Exclude, opts.Upstream, opts.Local)
	var preStageArgv []string
	if len(opts.PreStage) > 0 {
		full := buildArgv(opts.Executable, options, append(append([]string{}, opts.PreStage...), opts.Exclude...), opts.Upstream, opts.Local)
		preStageArgv = stripDeleteFlags(full)
	}

	return func(t *task.Task) bool {
		if err := os.MkdirAll(opts.Local, 0o755); err != nil {
			return false
		}
		sup := &supervisor.Supervisor{LogDir: opts.LogDir}
		onPID := func(pid int) {
			t.Lock()
			t.SystemPID = pid
			t.Unlock()
		}
		clearPID := func() { onPID(0) }

		if preStageArgv != nil {
			res, err := sup.Run(nil, supervisor.RunSpec{
				Command: withStopAt(preStageArgv, opts.Timeout), Timeout: opts.Timeout,
				LogPrefix: "rsync", TaskName: t.Name, Env: env, OnPID: onPID,
			})
			clearPID()
			if err != nil || res.ExitCode != 0 {
				logExitCode(opts.Log, t.Name, "pre_stage", res.ExitCode, err)
				return false
			}
		}

		res, err := sup.Run(nil, supervisor.RunSpec{
			Command: withStopAt(argv, opts.Timeout), Timeout: opts.Timeout,
			LogPrefix: "rsync", TaskName: t.Name, Env: env, OnPID: onPID,
		})
		clearPID()
		if err != nil || res.ExitCode != 0 {
			logExitCode(opts.Log, t.Name, "sync", res.ExitCode, err)
			return false
		}

		if !opts.NoExtractSize {
			extractSize(res.LogPath, t)
		}
		return true
	}, nil
}

// FromParams builds a task.Runner from a config.TaskDef's runner.params
// map, the shape the configuration loader's RunnerRegistry expects. log
// may be nil.
func FromParams(params map[string]any, log *logging.Logger) (func(*task.Task) bool, error) {
	opts := RsyncOptions{
		Upstream: stringParam(params, "upstream"),
		Local:    stringParam(params, "local"),
		Log:      log,
	}
	opts.Options = stringSliceParam(params, "options")
	opts.Exclude = stringSliceParam(params, "exclude")
	opts.Password = stringParam(params, "password")
	opts.Executable = stringParam(params, "executable")
	opts.PreStage = stringSliceParam(params, "pre_stage")
	opts.NoDefaultOptions, _ = params["no_default_options"].(bool)
	opts.NoExtractSize, _ = params["no_extract_size"].(bool)
	opts.LogDir = stringParam(params, "log_dir")

	if s := stringParam(params, "timeout"); s != "" {
		d, err := parseSeconds(s)
		if err != nil {
			return nil, err
		}
		opts.Timeout = d
	}
	if s := stringParam(params, "io_timeout"); s != "" {
		d, err := parseSeconds(s)
		if err != nil {
			return nil, err
		}
		opts.IOTimeout = d
	}
	if m, ok := params["env"].(map[string]any); ok {
		opts.Env = map[string]string{}
		for k, v := range m {
			if s, ok := v.(string); ok {
				opts.Env[k] = s
			}
		}
	}
	return NewRsync(opts)
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("runner: invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

func buildArgv(executable string, options, exclude []string, upstream, local string) []string {
	argv := []string{executable}
	argv = append(argv, options...)
	argv = append(argv, exclude...)
	argv = append(argv, upstream, local)
	return argv
}

func stripDeleteFlags(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		if strings.HasPrefix(a, "--delete") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func withStopAt(argv []string, timeout time.Duration) []string {
	if timeout <= 0 {
		return argv
	}
	stopTime := time.Now().Add(timeout)
	return append(append([]string{}, argv...), "--stop-at="+stopTime.Format("2006-01-02T15:04"))
}

// extractSize reads the run's log for rsync's "Total file size: N bytes"
// line (the last match, matching shine/helpers/rsync.py's match[-1]) and
// sets t.Size. A missing or unparsable line is ignored without logging and
// leaves t.Size unchanged, matching the original's best-effort extraction.
func extractSize(logPath string, t *task.Task) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return
	}
	matches := totalSizePattern.FindAllStringSubmatch(string(data), -1)
	if len(matches) == 0 {
		return
	}
	last := matches[len(matches)-1]
	size, err := strconv.ParseUint(last[1], 10, 64)
	if err != nil {
		return
	}
	t.Lock()
	t.Size = size
	t.Unlock()
}
