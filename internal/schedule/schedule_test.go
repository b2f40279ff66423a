package schedule

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30":  30 * time.Second,
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "-5s", "5x"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q) expected error", in)
		}
	}
}

func TestIntervalZeroJitterAllHoursAllowed(t *testing.T) {
	period := time.Hour
	iv, err := NewInterval(period, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next := iv.Next(now)
	if got := next.Sub(now); got != period {
		t.Errorf("next - now = %v, want %v", got, period)
	}
}

func TestIntervalRestrictedHoursSkipsDisallowed(t *testing.T) {
	// Only hour 10 allowed; starting at 09:50 with a 30 minute period must
	// land inside the 10:00 window, not inside the disallowed 09:xx hour.
	iv, err := NewInterval(30*time.Minute, 0, "10")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 9, 50, 0, 0, time.UTC)
	next := iv.Next(now)
	if next.Hour() != 10 {
		t.Errorf("next = %v, want hour 10", next)
	}
}

func TestIntervalWrappingHourRange(t *testing.T) {
	iv, err := NewInterval(0, 0, "22-2")
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range []int{22, 23, 0, 1, 2} {
		if !iv.allowed[h] {
			t.Errorf("hour %d should be allowed", h)
		}
	}
	if iv.allowed[3] || iv.allowed[21] {
		t.Errorf("hours outside the wrap range should not be allowed")
	}
}

func TestCronEveryFifteenMinutes(t *testing.T) {
	c, err := NewCron("*/15 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	next := c.Next(now)
	if next.Minute()%15 != 0 {
		t.Errorf("next minute %d is not a multiple of 15", next.Minute())
	}
	if !next.After(now) {
		t.Errorf("next %v must be strictly after now %v", next, now)
	}
}

func TestCronRejectsImpossibleSpec(t *testing.T) {
	if _, err := NewCron("0 0 31 2 *"); err == nil {
		t.Fatal("expected construction error for Feb 31")
	}
}

func TestCronLeapDayOnly(t *testing.T) {
	c, err := NewCron("0 0 29 2 *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	next := c.Next(now)
	want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestEarliestPicksSoonest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, _ := NewInterval(time.Hour, 0, "")
	b, _ := NewInterval(time.Minute, 0, "")
	e := Earliest{a, b}
	got := e.Next(now)
	want := b.Next(now)
	if !got.Equal(want) {
		t.Errorf("Earliest.Next = %v, want %v", got, want)
	}
}
