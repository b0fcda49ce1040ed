// Package state owns the mutable filter state of one session: the day,
// timeframe, site, recurrence, attendees, and the selected values of every
// filter field.
//
// A Store is not safe for concurrent use; the session loop serializes all
// access. Subscribers are notified synchronously after every committed
// change, once per Batch.
package state

import (
	"slices"
	"sort"
	"strings"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/util"
)

// Change keys for the fixed state entries. Field changes use FieldKey.
const (
	KeyDay        = "day"
	KeyTimeframe  = "timeframe"
	KeyLocation   = "location"
	KeyRecurrence = "recurrence"
	KeyAttendees  = "attendees"
)

const fieldPrefix = "field:"

// FieldKey returns the change key of a filter field.
func FieldKey(field string) string { return fieldPrefix + field }

// Values is a snapshot of the full state.
type Values struct {
	Day        int64               `json:"day"`
	Timeframe  model.Timeframe     `json:"timeframe"`
	Location   string              `json:"location,omitempty"`
	Recurrence recurrence.Rule     `json:"recurrence"`
	Attendees  []string            `json:"attendees"`
	Fields     map[string][]string `json:"fields"`
}

// FieldValues implements filter.Selector.
func (v Values) FieldValues(field string) []string { return v.Fields[field] }

// Change lists the keys modified by one commit.
type Change struct {
	keys map[string]bool
}

// Has reports whether key changed.
func (c Change) Has(key string) bool { return c.keys[key] }

// Keys returns the changed keys in sorted order.
func (c Change) Keys() []string {
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fields returns the names of the changed filter fields.
func (c Change) Fields() []string {
	var out []string
	for _, k := range c.Keys() {
		if f, ok := strings.CutPrefix(k, fieldPrefix); ok {
			out = append(out, f)
		}
	}
	return out
}

// Refetch reports whether the change invalidates fetched schedules.
func (c Change) Refetch() bool {
	return c.keys[KeyDay] || c.keys[KeyTimeframe] || c.keys[KeyLocation] || c.keys[KeyRecurrence]
}

// Store holds the state and its subscribers.
type Store struct {
	v       Values
	subs    map[int]func(Change)
	nextSub int
	depth   int
	pending map[string]bool
}

// New returns a store with today's day and default settings.
func New(day int64) *Store {
	return &Store{
		v: Values{
			Day:        day,
			Timeframe:  model.DefaultTimeframe,
			Recurrence: recurrence.Default(),
			Attendees:  []string{},
			Fields:     map[string][]string{},
		},
		subs:    map[int]func(Change){},
		pending: map[string]bool{},
	}
}

// Subscribe registers fn for change notifications. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

// Batch runs fn with notifications deferred; subscribers see one Change
// carrying every key fn modified, or nothing when no value changed.
func (s *Store) Batch(fn func(*Store)) {
	s.depth++
	defer func() {
		s.depth--
		if s.depth == 0 {
			s.commit()
		}
	}()
	fn(s)
}

func (s *Store) mark(key string) {
	s.pending[key] = true
	if s.depth == 0 {
		s.commit()
	}
}

func (s *Store) commit() {
	if len(s.pending) == 0 {
		return
	}
	c := Change{keys: s.pending}
	s.pending = map[string]bool{}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := s.subs[id]; ok {
			fn(c)
		}
	}
}

// ─── Accessors ────────────────────────────────────────────────────────────────

func (s *Store) Day() int64                  { return s.v.Day }
func (s *Store) Timeframe() model.Timeframe  { return s.v.Timeframe }
func (s *Store) Location() string            { return s.v.Location }
func (s *Store) Recurrence() recurrence.Rule { return s.v.Recurrence }
func (s *Store) Attendees() []string         { return slices.Clone(s.v.Attendees) }

// FieldValues returns the selected values of field; never nil.
func (s *Store) FieldValues(field string) []string {
	vals := s.v.Fields[field]
	if len(vals) == 0 {
		return []string{}
	}
	return slices.Clone(vals)
}

// HasValue reports whether value is selected for field.
func (s *Store) HasValue(field, value string) bool {
	return slices.Contains(s.v.Fields[field], value)
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() Values {
	out := s.v
	out.Attendees = slices.Clone(s.v.Attendees)
	out.Recurrence.Days = slices.Clone(s.v.Recurrence.Days)
	out.Fields = make(map[string][]string, len(s.v.Fields))
	for k, v := range s.v.Fields {
		if len(v) > 0 {
			out.Fields[k] = slices.Clone(v)
		}
	}
	return out
}

// ─── Mutators ─────────────────────────────────────────────────────────────────

func (s *Store) SetDay(day int64) {
	if s.v.Day == day {
		return
	}
	s.v.Day = day
	s.mark(KeyDay)
}

func (s *Store) SetTimeframe(tf model.Timeframe) {
	if s.v.Timeframe == tf {
		return
	}
	s.v.Timeframe = tf
	s.mark(KeyTimeframe)
}

func (s *Store) SetLocation(id string) {
	if s.v.Location == id {
		return
	}
	s.v.Location = id
	s.mark(KeyLocation)
}

func (s *Store) SetRecurrence(r recurrence.Rule) {
	r = r.Normalize()
	if s.v.Recurrence.Equal(r) {
		return
	}
	r.Days = slices.Clone(r.Days)
	s.v.Recurrence = r
	s.mark(KeyRecurrence)
}

// ApplyRecurrence stores r and moves the day to its first occurrence, or
// back to today when r is not confirmed.
func (s *Store) ApplyRecurrence(r recurrence.Rule, today int64) {
	s.Batch(func(s *Store) {
		s.SetRecurrence(r)
		if r.Confirmed() {
			s.SetDay(r.FirstDay)
		} else {
			s.SetDay(today)
		}
	})
}

// SetAttendees replaces the attendee list, dropping duplicates.
func (s *Store) SetAttendees(addrs []string) {
	next := util.Uniq(nonEmpty(addrs))
	if slices.Equal(s.v.Attendees, next) {
		return
	}
	s.v.Attendees = next
	s.mark(KeyAttendees)
}

// AddAttendee appends addr unless it is already present.
func (s *Store) AddAttendee(addr string) bool {
	if addr == "" || slices.Contains(s.v.Attendees, addr) {
		return false
	}
	s.v.Attendees = append(slices.Clone(s.v.Attendees), addr)
	s.mark(KeyAttendees)
	return true
}

func (s *Store) RemoveAttendee(addr string) {
	i := slices.Index(s.v.Attendees, addr)
	if i < 0 {
		return
	}
	s.v.Attendees = slices.Delete(slices.Clone(s.v.Attendees), i, i+1)
	s.mark(KeyAttendees)
}

// SetField replaces the selection of field. An empty selection clears it.
func (s *Store) SetField(field string, vals []string) {
	next := util.Uniq(vals)
	if slices.Equal(s.v.Fields[field], next) {
		return
	}
	if len(next) == 0 {
		if len(s.v.Fields[field]) == 0 {
			return
		}
		delete(s.v.Fields, field)
	} else {
		s.v.Fields[field] = next
	}
	s.mark(FieldKey(field))
}

func (s *Store) AddValue(field, value string) {
	if s.HasValue(field, value) {
		return
	}
	s.SetField(field, append(s.FieldValues(field), value))
}

func (s *Store) RemoveValue(field, value string) {
	if !s.HasValue(field, value) {
		return
	}
	s.SetField(field, slices.DeleteFunc(s.FieldValues(field), func(v string) bool { return v == value }))
}

func (s *Store) ToggleValue(field, value string) {
	if s.HasValue(field, value) {
		s.RemoveValue(field, value)
		return
	}
	s.AddValue(field, value)
}

// ResetField clears the selection of field.
func (s *Store) ResetField(field string) { s.SetField(field, nil) }

// ResetFields clears every filter selection in one commit.
func (s *Store) ResetFields() {
	s.Batch(func(s *Store) {
		for field := range s.v.Fields {
			s.ResetField(field)
		}
	})
}

func nonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
