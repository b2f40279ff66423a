package control

import (
	"sort"
	"strings"
)

// helpText is colocated with the dispatch table so the help output can
// never drift from the commands actually implemented below. Grounded on
// shine/command.py's usage().
var helpText = []struct {
	verb string
	desc string
}{
	{"help", "list available commands"},
	{"show", "tabular snapshot of every task"},
	{"info <task>", "dump all fields of <task>"},
	{"start <task>", "spawn <task>'s lifecycle worker now"},
	{"stop <task>", "invoke <task>'s registered kill capability"},
	{"enable <task>", "allow <task> to be scheduled"},
	{"disable <task>", "stop scheduling <task>"},
	{"remove <task>", "delete <task> from the table (refuses if running)"},
	{"reload", "reread config, plugins, and tasks"},
	{"KiLL", "send SIGTERM to the daemon's own process group"},
}

func help() string {
	var b strings.Builder
	for _, h := range helpText {
		b.WriteString(h.verb)
		b.WriteString(" - ")
		b.WriteString(h.desc)
		b.WriteByte('\n')
	}
	return b.String()
}

// Dispatch parses one command line and invokes the matching Commands
// method. Grounded on shine/command.py's global_cmd/per_task_cmd tables
// and its special-casing of the case-sensitive "KiLL" verb ahead of the
// lowercased lookup.
func Dispatch(cmds Commands, line string) string {
	// KiLL is checked before lowercasing, exactly as the original does,
	// since every other verb is case-insensitive via the lookup below.
	if strings.TrimSpace(line) == "KiLL" {
		cmds.Kill()
		return "sent SIGTERM to process group\n"
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return help()
	}
	verb := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch verb {
	case "help":
		return help()
	case "show":
		return cmds.Show()
	case "reload":
		return cmds.Reload()
	case "info":
		return requireTaskArg(arg, cmds.Info)
	case "start":
		return requireTaskArgString(arg, cmds.Start)
	case "stop":
		return requireTaskArgString(arg, cmds.Stop)
	case "enable":
		return requireTaskArgString(arg, cmds.Enable)
	case "disable":
		return requireTaskArgString(arg, cmds.Disable)
	case "remove":
		return requireTaskArgString(arg, cmds.Remove)
	default:
		return help()
	}
}

func requireTaskArgString(arg string, fn func(string) string) string {
	if arg == "" {
		return "missing task name\n"
	}
	return fn(arg)
}

func requireTaskArg(arg string, fn func(string) (string, bool)) string {
	if arg == "" {
		return "missing task name\n"
	}
	out, ok := fn(arg)
	if !ok {
		return "no such task: " + arg + "\n"
	}
	return out
}

// SortNamesCaseInsensitive matches shine/command.py's show() row ordering.
func SortNamesCaseInsensitive(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
}
