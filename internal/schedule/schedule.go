// Package schedule implements the pure next-fire calculators of spec.md
// §4.B: Interval (random jitter plus an allowed-hours window) and Cron
// (five-field crontab with the POSIX day-OR rule), composed with Earliest.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Schedule is a pure (now) → next-fire-time function. Both Interval and
// Cron implement it; nothing else about a schedule is observable.
type Schedule interface {
	Next(now time.Time) time.Time
}

// Earliest composes several schedules, firing at whichever of them would
// fire soonest. Grounded on shine/helpers/earliest.py's Earliest(*f).
type Earliest []Schedule

func (e Earliest) Next(now time.Time) time.Time {
	if len(e) == 0 {
		return now
	}
	best := e[0].Next(now)
	for _, s := range e[1:] {
		if t := s.Next(now); t.Before(best) {
			best = t
		}
	}
	return best
}

const maxDuration = 10 * 365 * 24 * time.Hour // spec.md §4.B: jitter bounded to [0, 10 years)

var durationPattern = regexp.MustCompile(`^([0-9]+)([smhdw]?)$`)

// ParseDuration accepts a bare integer number of seconds, or the terse
// grammar "<N>{s|m|h|d|w}" from shine/helpers/interval.py's _time_conv.
// The result is bounded to [0, 10 years).
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("schedule: invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid duration %q: %w", s, err)
	}
	var unit time.Duration
	switch m[2] {
	case "", "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("schedule: invalid duration unit in %q", s)
	}
	d := time.Duration(n) * unit
	if d < 0 || d >= maxDuration {
		return 0, fmt.Errorf("schedule: duration %q out of bounds [0, 10y)", s)
	}
	return d, nil
}
