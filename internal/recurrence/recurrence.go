// Package recurrence holds the recurring-meeting rule, its query parameters,
// and an offline canonical form built with rrule-go.
package recurrence

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/teambition/rrule-go"
)

// MillisInMonth is the flat 31-day month used to compute repBy.
const MillisInMonth int64 = 2_678_400_000

// Pattern is the repetition unit of a rule.
type Pattern string

const (
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
)

// ErrNoOccurrence is returned by Preview when the rule never fires.
var ErrNoOccurrence = errors.New("recurrence has no occurrence")

// Rule is a recurring-meeting selection. Days use 0 for Sunday.
// FirstDay and Description are filled by Confirm.
type Rule struct {
	Pattern     Pattern `json:"pattern"`
	EndAfter    int     `json:"endAfter"`
	Interval    int     `json:"interval"`
	Week        int     `json:"week"`
	Days        []int   `json:"days"`
	Active      bool    `json:"active"`
	Day         int64   `json:"day,omitempty"`
	FirstDay    int64   `json:"firstDay,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Default returns an inactive weekly rule.
func Default() Rule {
	return Rule{Pattern: Weekly, EndAfter: 1, Interval: 1, Week: 1, Days: []int{}}
}

// Normalize fills zero fields with their defaults.
func (r Rule) Normalize() Rule {
	d := Default()
	if r.Pattern == "" {
		r.Pattern = d.Pattern
	}
	if r.EndAfter == 0 {
		r.EndAfter = d.EndAfter
	}
	if r.Interval == 0 {
		r.Interval = d.Interval
	}
	if r.Week == 0 {
		r.Week = d.Week
	}
	if r.Days == nil {
		r.Days = []int{}
	}
	return r
}

// Confirmed reports whether the rule is active and has its first occurrence.
func (r Rule) Confirmed() bool { return r.Active && r.FirstDay != 0 }

// Pending reports whether the rule is active but not yet confirmed.
func (r Rule) Pending() bool { return r.Active && r.FirstDay == 0 }

// Equal compares two rules field by field.
func (r Rule) Equal(o Rule) bool {
	if len(r.Days) != len(o.Days) {
		return false
	}
	for i := range r.Days {
		if r.Days[i] != o.Days[i] {
			return false
		}
	}
	return r.Pattern == o.Pattern && r.EndAfter == o.EndAfter && r.Interval == o.Interval &&
		r.Week == o.Week && r.Active == o.Active && r.Day == o.Day &&
		r.FirstDay == o.FirstDay && r.Description == o.Description
}

// By returns the end of the repetition window.
func (r Rule) By() int64 { return r.Day + int64(r.EndAfter)*MillisInMonth }

// Validate checks a rule before it is sent for confirmation.
func (r Rule) Validate() error {
	switch r.Pattern {
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("unknown recurrence pattern %q", r.Pattern)
	}
	if r.Interval < 1 {
		return fmt.Errorf("recurrence interval must be at least 1, got %d", r.Interval)
	}
	if r.EndAfter < 1 {
		return fmt.Errorf("recurrence must end after at least 1 month, got %d", r.EndAfter)
	}
	if r.Pattern == Monthly && (r.Week < 1 || r.Week > 5) {
		return fmt.Errorf("recurrence week must be within 1..5, got %d", r.Week)
	}
	if r.Pattern != Daily && len(r.Days) == 0 {
		return errors.New("select one or more days for the recurrent meeting")
	}
	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("weekday %d out of range 0..6", d)
		}
	}
	return nil
}

// ─── Query Parameters ─────────────────────────────────────────────────────────

// FormatForQuery maps the rule onto the rep* request parameters.
func FormatForQuery(r Rule) url.Values {
	days := make([]string, len(r.Days))
	for i, d := range r.Days {
		days[i] = strconv.Itoa(d)
	}
	v := url.Values{}
	v.Set("repFrom", strconv.FormatInt(r.Day, 10))
	v.Set("repPattern", string(r.Pattern))
	v.Set("repInterval", strconv.Itoa(r.Interval))
	v.Set("repDays", strings.Join(days, ","))
	v.Set("repWeek", strconv.Itoa(r.Week))
	v.Set("repBy", strconv.FormatInt(r.By(), 10))
	return v
}

// Constraint returns the parameters a fetch should carry: nil unless the
// rule is confirmed.
func Constraint(r Rule) url.Values {
	if !r.Confirmed() {
		return nil
	}
	return FormatForQuery(r)
}

// Confirm records the first occurrence and description reported for r.
func Confirm(r Rule, first int64, description string) Rule {
	r.Active = true
	r.FirstDay = first
	r.Description = description
	return r
}

// ─── Canonical Form ───────────────────────────────────────────────────────────

// weekdays is indexed by the rule's 0=Sunday day numbers.
var weekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var ordinals = []string{"", "first", "second", "third", "fourth", "fifth"}

// RRule builds the canonical recurrence starting at r.Day in loc and
// ending at repBy.
func RRule(r Rule, loc *time.Location) (*rrule.RRule, error) {
	if loc == nil {
		loc = time.UTC
	}
	opt := rrule.ROption{
		Dtstart:  time.UnixMilli(r.Day).In(loc),
		Until:    time.UnixMilli(r.By()).In(loc),
		Interval: r.Interval,
	}
	switch r.Pattern {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range r.Days {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		for _, d := range r.Days {
			opt.Byweekday = append(opt.Byweekday, weekdays[d].Nth(r.Week))
		}
	default:
		return nil, fmt.Errorf("unknown recurrence pattern %q", r.Pattern)
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return rr, nil
}

// String returns the RRULE line of r without DTSTART.
func String(r Rule, loc *time.Location) (string, error) {
	rr, err := RRule(r, loc)
	if err != nil {
		return "", err
	}
	return rr.OrigOptions.RRuleString(), nil
}

// Preview computes the first occurrence and an English description without
// a schedule service.
func Preview(r Rule, loc *time.Location) (model.RepInfo, error) {
	if err := r.Validate(); err != nil {
		return model.RepInfo{}, err
	}
	rr, err := RRule(r, loc)
	if err != nil {
		return model.RepInfo{}, err
	}
	first, ok := rr.Iterator()()
	if !ok {
		return model.RepInfo{}, ErrNoOccurrence
	}
	return model.RepInfo{First: first.UnixMilli(), Description: Describe(r, loc)}, nil
}

// Describe renders r as a sentence.
func Describe(r Rule, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	switch r.Pattern {
	case Daily:
		b.WriteString(every(r.Interval, "day"))
	case Weekly:
		b.WriteString(every(r.Interval, "week"))
		b.WriteString(" on ")
		b.WriteString(joinDays(r.Days))
	case Monthly:
		b.WriteString(every(r.Interval, "month"))
		b.WriteString(" on the ")
		if r.Week >= 1 && r.Week < len(ordinals) {
			b.WriteString(ordinals[r.Week])
		} else {
			b.WriteString(strconv.Itoa(r.Week) + "th")
		}
		b.WriteString(" ")
		b.WriteString(joinDays(r.Days))
	}
	const layout = "Jan 2, 2006"
	fmt.Fprintf(&b, " from %s until %s",
		time.UnixMilli(r.Day).In(loc).Format(layout),
		time.UnixMilli(r.By()).In(loc).Format(layout))
	return b.String()
}

func every(n int, unit string) string {
	if n <= 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", n, unit)
}

func joinDays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ", ")
}
