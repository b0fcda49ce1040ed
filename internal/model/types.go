// Package model defines the canonical data types used throughout rookboom.
// These types mirror the schedule service payloads and the result envelope
// that every command returns.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ─── Time & Enums ─────────────────────────────────────────────────────────────

// Millis converts a time.Time into Unix epoch milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// Time converts Unix epoch milliseconds into a time.Time in loc.
func Time(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc)
}

// Timeframe selects which part of the day the time grid covers.
type Timeframe string

const (
	TimeframeMorning Timeframe = "Morning"
	TimeframeDay     Timeframe = "Day"
	TimeframeNight   Timeframe = "Night"

	DefaultTimeframe = TimeframeDay
)

// Timeframes lists every timeframe in display order.
var Timeframes = []Timeframe{TimeframeMorning, TimeframeDay, TimeframeNight}

// ParseTimeframe validates s as a timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q: expected Morning|Day|Night", s)
}

// Match is the categorical availability of a frame across attendees.
type Match string

const (
	MatchAll  Match = "all"
	MatchSome Match = "some"
	MatchPoor Match = "poor"
	MatchNone Match = "none"
)

// ─── Schedule Types ───────────────────────────────────────────────────────────

// TimeSlot is one frame of a subject's day. EventID 0 marks a free slot.
// Length and FirstFrame are derived by the run-length pass.
type TimeSlot struct {
	EventID    int64 `json:"eventId"`
	From       int64 `json:"from"`
	To         int64 `json:"to"`
	Busy       bool  `json:"busy"`
	Length     int   `json:"length,omitempty"`
	FirstFrame bool  `json:"firstFrame,omitempty"`
}

// Attributes holds a room's filterable attributes. The service sends
// numbers and booleans as well as strings; all are kept in string form.
type Attributes map[string]string

// UnmarshalJSON normalises scalar attribute values to strings.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Attributes, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || bytes.Equal(v, []byte("null")) {
			continue
		}
		if v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("attribute %s: %w", k, err)
			}
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	*a = out
	return nil
}

// Room is a bookable meeting room.
type Room struct {
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Attributes Attributes `json:"attributes"`
}

// User is an attendee.
type User struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
	Account     string `json:"account,omitempty"`
}

// Schedule is the day of one subject: either a room or a user.
type Schedule struct {
	Room     *Room      `json:"room,omitempty"`
	User     *User      `json:"user,omitempty"`
	Slots    []TimeSlot `json:"schedule"`
	MaxEmpty int        `json:"maxEmpty"`
}

// Name returns the display name of the subject.
func (s Schedule) Name() string {
	switch {
	case s.Room != nil:
		return s.Room.Name
	case s.User != nil:
		if s.User.DisplayName != "" {
			return s.User.DisplayName
		}
		return s.User.Address
	}
	return ""
}

// Key returns the subject's e-mail identity.
func (s Schedule) Key() string {
	switch {
	case s.Room != nil:
		return s.Room.Email
	case s.User != nil:
		return s.User.Address
	}
	return ""
}

// Attribute returns a room attribute; users have none.
func (s Schedule) Attribute(field string) (string, bool) {
	if s.Room == nil {
		return "", false
	}
	v, ok := s.Room.Attributes[field]
	return v, ok
}

// Clone returns a deep copy of the slot list so derived annotations never
// leak between fetch cycles.
func (s Schedule) Clone() Schedule {
	out := s
	out.Slots = append([]TimeSlot(nil), s.Slots...)
	return out
}

// ─── Service Payloads ─────────────────────────────────────────────────────────

// TimeMask is the wire form of the time grid.
type TimeMask struct {
	Frames   []int64 `json:"frames"`
	Interval int64   `json:"interval"`
}

// Appointment is the booking detail attached to an event.
type Appointment struct {
	Subject string `json:"subject,omitempty"`
	Owner   User   `json:"owner"`
}

// Event is an entry of the schedule payload's event table.
type Event struct {
	ID          int64        `json:"id,omitempty"`
	Appointment *Appointment `json:"appointment,omitempty"`
}

// SchedulePayload is the response of GET /schedule.
type SchedulePayload struct {
	Day            int64            `json:"day"`
	Events         map[string]Event `json:"events"`
	Schedule       []Schedule       `json:"schedule"`
	Filtered       []Schedule       `json:"filtered"`
	TimezoneOffset int              `json:"timezoneOffset"`
}

// AttendeePayload is the response of GET /schedule/users.
type AttendeePayload struct {
	Day    int64      `json:"day"`
	Result []Schedule `json:"result"`
}

// TimeMaskPayload is the response of GET /schedule/timemask.
type TimeMaskPayload struct {
	Day      int64    `json:"day"`
	TimeMask TimeMask `json:"timeMask"`
}

// RepInfo is the response of GET /schedule/rep-info.
type RepInfo struct {
	First       int64  `json:"first"`
	Description string `json:"description"`
}

// ─── Query ────────────────────────────────────────────────────────────────────

// Query is the parameter set shared by every schedule request.
// Recurrence holds the rep* parameters when a confirmed recurrence is active.
type Query struct {
	Day        int64
	Timeframe  Timeframe
	Location   string
	Recurrence url.Values
}

// Values renders q as request parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("day", strconv.FormatInt(q.Day, 10))
	tf := q.Timeframe
	if tf == "" {
		tf = DefaultTimeframe
	}
	v.Set("timeframe", string(tf))
	if q.Location != "" {
		v.Set("location", q.Location)
	}
	for k, vals := range q.Recurrence {
		for _, s := range vals {
			v.Add(k, s)
		}
	}
	return v
}

// ─── Availability ─────────────────────────────────────────────────────────────

// Score is the match category of one frame start.
type Score struct {
	From  int64 `json:"from"`
	Match Match `json:"match"`
}

// ─── Result Envelope ─────────────────────────────────────────────────────────

// ResultStats carries performance and cache metadata for a command result.
type ResultStats struct {
	CacheHit   bool  `json:"cache_hit"`
	DurationMs int64 `json:"duration_ms"`
	Items      int   `json:"items"`
}

// Result is the uniform envelope returned by every command.
// The Data field holds the typed payload; Kind identifies what is in it.
// Renderers switch on Kind to format output appropriately.
type Result struct {
	Kind        string      `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
	Command     string      `json:"command"`
	Data        interface{} `json:"data"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       ResultStats `json:"stats"`
}

// Kind constants for Result.Kind.
const (
	KindSchedules    = "schedules"
	KindScores       = "scores"
	KindFrames       = "frames"
	KindGrid         = "grid"
	KindPresentation = "presentation"
	KindParams       = "params"
	KindState        = "state"
	KindTable        = "table"
)

// Table is a pre-tabulated payload for kinds whose rows are assembled by the
// command itself (frames, state, stats, listings).
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Records returns the rows as column-keyed objects, the JSON form of a table.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for j, c := range t.Columns {
			if j < len(row) {
				rec[c] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}
