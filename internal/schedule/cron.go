package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron implements the five-field crontab grammar of spec.md §4.B, grounded
// on shine/helpers/cron.py: "*", comma-lists, "a-b" ranges, and "/step"
// (step defaults to 1); dow 0 and 7 both mean Sunday and are normalized to
// 7 internally. The POSIX day-OR rule applies whenever either dom or dow is
// restricted.
type Cron struct {
	minute map[int]bool // 0-59
	hour   map[int]bool // 0-23
	dom    map[int]bool // 1-31
	mon    map[int]bool // 1-12
	dow    map[int]bool // 1-7, 7 = Sunday

	domRestricted bool
	dowRestricted bool
}

// NewCron parses a standard 5-field crontab line ("m h dom mon dow") and
// rejects, at construction time, specs that can never match any calendar
// date (e.g. "0 0 31 2 *").
func NewCron(spec string) (*Cron, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("schedule: cron spec %q must have 5 fields", spec)
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("schedule: minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("schedule: hour field: %w", err)
	}
	dom, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("schedule: day-of-month field: %w", err)
	}
	mon, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("schedule: month field: %w", err)
	}
	dow, err := parseCronField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("schedule: day-of-week field: %w", err)
	}
	if dow[0] {
		delete(dow, 0)
		dow[7] = true
	}

	c := &Cron{
		minute:        minute,
		hour:          hour,
		dom:           dom,
		mon:           mon,
		dow:           dow,
		domRestricted: len(dom) != 31,
		dowRestricted: len(dow) != 7,
	}

	if err := c.validateReachable(); err != nil {
		return nil, err
	}
	return c, nil
}

// parseCronField parses one comma-separated cron field into the set of
// matching integers within [lo, hi].
func parseCronField(field string, lo, hi int) (map[int]bool, error) {
	out := make(map[int]bool)
	for _, item := range strings.Split(field, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty item in %q", field)
		}
		base, step := item, 1
		if idx := strings.IndexByte(item, '/'); idx >= 0 {
			base = item[:idx]
			n, err := strconv.Atoi(item[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step in %q", item)
			}
			step = n
		}

		var rangeLo, rangeHi int
		switch {
		case base == "*":
			rangeLo, rangeHi = lo, hi
		case strings.Contains(base, "-"):
			parts := strings.SplitN(base, "-", 2)
			a, err1 := strconv.Atoi(parts[0])
			b, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil || a > b {
				return nil, fmt.Errorf("invalid range %q", base)
			}
			rangeLo, rangeHi = a, b
		default:
			a, err := strconv.Atoi(base)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", base)
			}
			rangeLo, rangeHi = a, a
		}
		if rangeLo < lo || rangeHi > hi {
			return nil, fmt.Errorf("value %q out of bounds [%d,%d]", base, lo, hi)
		}
		for v := rangeLo; v <= rangeHi; v += step {
			out[v] = true
		}
	}
	return out, nil
}

// dayMatches applies the POSIX day-OR rule: if either dom or dow is
// restricted, a day matches if it satisfies the restricted one(s) (OR when
// both are restricted); if neither is restricted, every day matches.
func (c *Cron) dayMatches(t time.Time) bool {
	if !c.domRestricted && !c.dowRestricted {
		return true
	}
	domOK := c.dom[t.Day()]
	dowOK := c.dow[weekdayToField(t.Weekday())]
	switch {
	case c.domRestricted && c.dowRestricted:
		return domOK || dowOK
	case c.domRestricted:
		return domOK
	default:
		return dowOK
	}
}

func weekdayToField(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

// validateReachable rejects specs that can never match any calendar date,
// by searching a 5-year window from the construction time for at least one
// matching (month, day) combination. Five years safely spans any leap-year
// periodicity (e.g. a Feb-29-only spec).
func (c *Cron) validateReachable() error {
	start := time.Now()
	for i := 0; i < 5*366; i++ {
		t := start.AddDate(0, 0, i)
		if c.mon[int(t.Month())] && c.dayMatches(t) {
			return nil
		}
	}
	return fmt.Errorf("schedule: cron spec can never match any date")
}

const maxCronSearchSteps = 500000

// Next implements Schedule. It starts at now+1 minute truncated to the
// minute, then iteratively bumps the most-significant violated field
// (month, then day, then hour, then minute), resetting lower fields to
// their start on every carry.
func (c *Cron) Next(now time.Time) time.Time {
	t := now.Add(time.Minute)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())

	for i := 0; i < maxCronSearchSteps; i++ {
		if !c.mon[int(t.Month())] {
			t = startOfNextMonth(t)
			continue
		}
		if !c.dayMatches(t) {
			t = startOfNextDay(t)
			continue
		}
		if !c.hour[t.Hour()] {
			t = startOfNextHourCron(t)
			continue
		}
		if !c.minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return t
}

func startOfNextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}

func startOfNextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

func startOfNextHourCron(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
}
