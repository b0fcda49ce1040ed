// Package tz converts between a site's wall-clock day and the absolute
// timestamps the schedule service and the URL fragment use.
//
// Site offsets are minutes east of UTC. Browser offsets follow the
// getTimezoneOffset convention (minutes west of UTC) and are evaluated at
// the current instant, so conversions must be recomputed rather than cached
// across a daylight-saving change.
package tz

import (
	"time"

	"github.com/rookboom/rookboom/internal/model"
)

const minute = int64(time.Minute / time.Millisecond)

// Adjuster performs site/browser conversions for one local zone.
// The zero value uses time.Local and the wall clock.
type Adjuster struct {
	Local *time.Location
	Now   func() time.Time
}

func (a Adjuster) loc() *time.Location {
	if a.Local == nil {
		return time.Local
	}
	return a.Local
}

func (a Adjuster) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Location returns the zone the adjuster treats as the browser's.
func (a Adjuster) Location() *time.Location { return a.loc() }

// NowMillis returns the current instant in epoch milliseconds.
func (a Adjuster) NowMillis() int64 { return a.now().UnixMilli() }

// BrowserOffsetMinutes returns the local zone's offset at the current
// instant, in minutes west of UTC.
func (a Adjuster) BrowserOffsetMinutes() int {
	_, east := a.now().In(a.loc()).Zone()
	return -east / 60
}

func (a Adjuster) correction(siteOffset int) int64 {
	return int64(siteOffset+a.BrowserOffsetMinutes()) * minute
}

// ToLocationTime maps a browser-local timestamp onto the instant at which
// the site's wall clock reads the same time.
func (a Adjuster) ToLocationTime(t int64, siteOffset int) int64 {
	return t - a.correction(siteOffset)
}

// ToBrowserTime is the inverse of ToLocationTime.
func (a Adjuster) ToBrowserTime(t int64, siteOffset int) int64 {
	return t + a.correction(siteOffset)
}

// CurrentTimeForLocation returns now expressed on the browser's clock as
// the site's wall-clock time.
func (a Adjuster) CurrentTimeForLocation(siteOffset int) int64 {
	return a.ToBrowserTime(a.NowMillis(), siteOffset)
}

// DayAnchor returns the instant of midnight of the site's current day.
func (a Adjuster) DayAnchor(siteOffset int) int64 {
	shift := int64(siteOffset) * minute
	site := time.UnixMilli(a.NowMillis() + shift).UTC()
	midnight := time.Date(site.Year(), site.Month(), site.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.UnixMilli() - shift
}

// RoundToDayDown floors t to local midnight.
func (a Adjuster) RoundToDayDown(t int64) int64 {
	lt := model.Time(t, a.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, a.loc()).UnixMilli()
}

// Today returns local midnight of the current day.
func (a Adjuster) Today() int64 {
	return a.RoundToDayDown(a.NowMillis())
}

// ShiftDay moves a local-midnight timestamp by n calendar days, staying on
// local midnight when a daylight-saving change lies in between.
func (a Adjuster) ShiftDay(day int64, n int) int64 {
	return model.Time(day, a.loc()).AddDate(0, 0, n).UnixMilli()
}

// Midnight returns local midnight of the given calendar date.
func (a Adjuster) Midnight(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, a.loc()).UnixMilli()
}
