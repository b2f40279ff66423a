package schedule

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Interval fires every period, jittered uniformly by ±jitter, and only
// credits time passing during the hours named in the allowed-hours window.
// Grounded on shine/helpers/interval.py.
type Interval struct {
	period  time.Duration
	jitter  time.Duration
	allowed [24]bool
	allAll  bool // fast path: every hour allowed

	rnd *rand.Rand
}

// NewInterval parses allowedHours (comma-separated "H" or "H1-H2", hours mod
// 24, wrapping across midnight when H2 < H1) and returns an Interval. An
// empty allowedHours string means "every hour allowed".
func NewInterval(period, jitter time.Duration, allowedHours string) (*Interval, error) {
	if period < 0 || period >= maxDuration {
		return nil, fmt.Errorf("schedule: period out of bounds [0, 10y)")
	}
	if jitter < 0 || jitter >= maxDuration {
		return nil, fmt.Errorf("schedule: jitter out of bounds [0, 10y)")
	}
	iv := &Interval{period: period, jitter: jitter, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	hours := strings.TrimSpace(allowedHours)
	if hours == "" {
		iv.allAll = true
		for i := range iv.allowed {
			iv.allowed[i] = true
		}
		return iv, nil
	}
	for _, part := range strings.Split(hours, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := parseHour(part[:dash])
			if err != nil {
				return nil, err
			}
			hi, err := parseHour(part[dash+1:])
			if err != nil {
				return nil, err
			}
			if hi < lo {
				// wraps across midnight
				for h := lo; h < 24; h++ {
					iv.allowed[h] = true
				}
				for h := 0; h <= hi; h++ {
					iv.allowed[h] = true
				}
			} else {
				for h := lo; h <= hi; h++ {
					iv.allowed[h] = true
				}
			}
			continue
		}
		h, err := parseHour(part)
		if err != nil {
			return nil, err
		}
		iv.allowed[h] = true
	}

	allAll := true
	for _, ok := range iv.allowed {
		if !ok {
			allAll = false
			break
		}
	}
	iv.allAll = allAll
	return iv, nil
}

func parseHour(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 23 {
		return 0, fmt.Errorf("schedule: invalid hour %q", s)
	}
	return n, nil
}

// Next implements Schedule. d = max(0, period + uniform(-jitter, +jitter)).
// When every hour is allowed, Next is plain addition; otherwise it walks
// forward hour by hour, skipping disallowed hours entirely.
func (iv *Interval) Next(now time.Time) time.Time {
	d := iv.period
	if iv.jitter > 0 {
		delta := time.Duration(iv.rnd.Int63n(int64(2*iv.jitter)+1)) - iv.jitter
		d += delta
	}
	if d < 0 {
		d = 0
	}
	if iv.allAll {
		return now.Add(d)
	}
	return iv.advance(now, d)
}

// advance credits d of wall-clock time against now, only while the hour of
// day is in the allowed set. Disallowed hours are skipped without consuming
// any of the remaining duration.
func (iv *Interval) advance(now time.Time, d time.Duration) time.Time {
	if d == 0 {
		return now
	}
	cur := now
	remaining := d
	// Bounded iteration: at most ~20 years of hours, twice the 10-year duration cap.
	for i := 0; i < 24*366*20; i++ {
		hour := cur.Hour()
		if !iv.allowed[hour] {
			cur = startOfNextHour(cur)
			continue
		}
		hourEnd := startOfNextHour(cur)
		untilHourEnd := hourEnd.Sub(cur)
		if remaining <= untilHourEnd {
			return cur.Add(remaining)
		}
		remaining -= untilHourEnd
		cur = hourEnd
	}
	return cur
}

func startOfNextHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
}
