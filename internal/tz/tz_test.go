package tz_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rookboom/rookboom/internal/tz"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

// ─── Offsets ──────────────────────────────────────────────────────────────────

func TestBrowserOffsetMinutes(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	winter := tz.Adjuster{Local: ny, Now: fixedNow(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))}
	if got := winter.BrowserOffsetMinutes(); got != 300 {
		t.Errorf("winter: expected 300, got %d", got)
	}
	summer := tz.Adjuster{Local: ny, Now: fixedNow(time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC))}
	if got := summer.BrowserOffsetMinutes(); got != 240 {
		t.Errorf("summer: expected 240, got %d", got)
	}
	tokyo := tz.Adjuster{Local: time.FixedZone("JST", 9*3600), Now: fixedNow(time.Now())}
	if got := tokyo.BrowserOffsetMinutes(); got != -540 {
		t.Errorf("east of UTC: expected -540, got %d", got)
	}
}

func TestRoundTrip(t *testing.T) {
	zones := []*time.Location{time.UTC, mustLoad(t, "America/New_York"), time.FixedZone("IST", 5*3600+1800)}
	stamps := []int64{0, 1709596800000, 1719792000123, -86400000}
	offsets := []int{-480, -300, 0, 60, 330, 720}
	for _, loc := range zones {
		a := tz.Adjuster{Local: loc, Now: fixedNow(time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC))}
		for _, ts := range stamps {
			for _, o := range offsets {
				if got := a.ToBrowserTime(a.ToLocationTime(ts, o), o); got != ts {
					t.Errorf("%s t=%d o=%d: round trip gave %d", loc, ts, o, got)
				}
			}
		}
	}
}

func TestToLocationTimeMapsWallClock(t *testing.T) {
	// Browser in Berlin (UTC+1 in March), site in New York (UTC-5).
	berlin := mustLoad(t, "Europe/Berlin")
	a := tz.Adjuster{Local: berlin, Now: fixedNow(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))}
	localMidnight := time.Date(2024, 3, 5, 0, 0, 0, 0, berlin).UnixMilli()
	got := a.ToLocationTime(localMidnight, -300)
	want := time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Errorf("expected New York midnight %d, got %d", want, got)
	}
}

// ─── Days ─────────────────────────────────────────────────────────────────────

func TestDayAnchor(t *testing.T) {
	// 02:00 UTC on March 6 is still March 5 in San Francisco (UTC-8).
	a := tz.Adjuster{Local: time.UTC, Now: fixedNow(time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC))}
	got := a.DayAnchor(-480)
	want := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Errorf("DayAnchor(-480): expected %d, got %d", want, got)
	}
	if got := a.DayAnchor(0); got != time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("DayAnchor(0): unexpected %d", got)
	}
}

func TestRoundToDayDown(t *testing.T) {
	loc := time.FixedZone("X", -3*3600)
	a := tz.Adjuster{Local: loc}
	ts := time.Date(2024, 3, 5, 23, 59, 0, 0, loc).UnixMilli()
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, loc).UnixMilli()
	if got := a.RoundToDayDown(ts); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestShiftDayAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	a := tz.Adjuster{Local: ny}
	before := time.Date(2024, 3, 9, 0, 0, 0, 0, ny).UnixMilli()
	after := a.ShiftDay(before, 2)
	want := time.Date(2024, 3, 11, 0, 0, 0, 0, ny).UnixMilli()
	if after != want {
		t.Errorf("expected %d, got %d", want, after)
	}
	if after-before == 2*24*3600*1000 {
		t.Error("shift across DST should not be exactly 48 hours")
	}
	if back := a.ShiftDay(after, -2); back != before {
		t.Errorf("shift back: expected %d, got %d", before, back)
	}
}

func TestCurrentTimeForLocation(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	a := tz.Adjuster{Local: time.UTC, Now: fixedNow(now)}
	got := a.CurrentTimeForLocation(60)
	if got != now.Add(time.Hour).UnixMilli() {
		t.Errorf("expected now+1h, got %d", got)
	}
}
