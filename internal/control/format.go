package control

import (
	"fmt"
	"strings"
)

// Row is one line of the `show` command's tabular snapshot (spec.md
// §4.F). Grounded on shine/command.py's show().
type Row struct {
	Name       string
	Status     string
	LastFinish int64 // epoch seconds, 0 = never
	NextSched  int64 // epoch seconds
	Running    bool  // true while Syncing: NEXT column shows running duration instead
	LastStart  int64 // used for the running-duration case
	FailCount  int
	Disabled   bool
}

// FormatShowTable renders rows sorted case-insensitively by name, with
// NAME flagged "!" on failure and "~" when disabled, and LAST/NEXT
// rendered as human durations.
func FormatShowTable(rows []Row, now int64) string {
	names := make([]string, len(rows))
	byName := make(map[string]Row, len(rows))
	for i, r := range rows {
		names[i] = r.Name
		byName[r.Name] = r
	}
	SortNamesCaseInsensitive(names)

	var b strings.Builder
	header := fmt.Sprintf("%-24s %-10s %-10s %-10s\n", "NAME", "STATUS", "LAST", "NEXT")
	b.WriteString(header)
	for _, name := range names {
		r := byName[name]
		flagged := name
		if r.FailCount > 0 {
			flagged += "!"
		}
		if r.Disabled {
			flagged += "~"
		}
		last := "never"
		if r.LastFinish > 0 {
			last = HumanDuration(now-r.LastFinish) + " ago"
		}
		var next string
		if r.Running {
			next = HumanDuration(now - r.LastStart)
		} else {
			next = HumanDuration(r.NextSched - now)
		}
		b.WriteString(fmt.Sprintf("%-24s %-10s %-10s %-10s\n", flagged, r.Status, last, next))
	}
	return b.String()
}

// HumanDuration renders a signed second count as a terse duration string
// ("3h12m", "45s", "-5s" for already-past), grounded on
// shine/command.py's _time_duration().
func HumanDuration(seconds int64) string {
	neg := seconds < 0
	if neg {
		seconds = -seconds
	}
	var out string
	switch {
	case seconds < 60:
		out = fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		out = fmt.Sprintf("%dm%ds", seconds/60, seconds%60)
	case seconds < 86400:
		out = fmt.Sprintf("%dh%dm", seconds/3600, (seconds%3600)/60)
	default:
		out = fmt.Sprintf("%dd%dh", seconds/86400, (seconds%86400)/3600)
	}
	if neg {
		return "-" + out
	}
	return out
}
