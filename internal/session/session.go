// Package session wires state, fetching, filtering, scoring and the URL
// fragment together on one serialized loop.
//
// Every state mutation and every fetched response is handled on the loop.
// Fetches run on their own goroutines and post their results back; a
// response whose day no longer matches the current query is dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rookboom/rookboom/internal/filter"
	"github.com/rookboom/rookboom/internal/hash"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/score"
	"github.com/rookboom/rookboom/internal/slots"
	"github.com/rookboom/rookboom/internal/state"
	"github.com/rookboom/rookboom/internal/timegrid"
	"github.com/rookboom/rookboom/internal/tz"
)

// ErrStale marks a response that arrived after its query was superseded.
var ErrStale = errors.New("stale response")

// Response kinds reported to Config.OnResponse.
const (
	KindRooms     = "rooms"
	KindAttendees = "attendees"
	KindAttendee  = "attendee"
	KindGrid      = "grid"
)

// Fetcher retrieves schedule data for a query.
type Fetcher interface {
	Rooms(ctx context.Context, q model.Query) (*model.SchedulePayload, error)
	Attendees(ctx context.Context, q model.Query, emails []string) (*model.AttendeePayload, error)
	Attendee(ctx context.Context, q model.Query, email string) (*model.Schedule, error)
	TimeMask(ctx context.Context, q model.Query) (*model.TimeMaskPayload, error)
	RepInfo(ctx context.Context, q model.Query) (*model.RepInfo, error)
}

// Config holds the collaborators of a Session.
type Config struct {
	Fetcher Fetcher
	Engine  *filter.Engine
	Codec   hash.Codec
	// Offset returns the timezone offset of a site in minutes east of UTC.
	Offset func(siteID string) int
	// OnFragment receives every new fragment after a commit.
	OnFragment func(string)
	// OnResponse is called on the loop after each fetched response is
	// handled; err is nil when the response was applied.
	OnResponse func(kind string, err error)
}

// View is a consistent snapshot of a session.
type View struct {
	Values    state.Values          `json:"values"`
	Fragment  string                `json:"fragment"`
	Rooms     []model.Schedule      `json:"rooms"`
	Attendees []model.Schedule      `json:"attendees"`
	Scores    []model.Score         `json:"scores"`
	Grid      *timegrid.Grid        `json:"grid,omitempty"`
	Filters   []filter.Presentation `json:"filters"`
}

// Session owns the state of one user view.
type Session struct {
	cfg  Config
	tz   tz.Adjuster
	loop *Loop
	st   *state.Store
	ctx  context.Context

	loaded    bool
	original  []model.Schedule
	rooms     []model.Schedule
	attendees []model.Schedule
	scores    []model.Score
	grid      *timegrid.Grid
	fragment  string
}

// New creates a session starting on today.
func New(cfg Config) *Session {
	if cfg.Offset == nil {
		cfg.Offset = func(string) int { return 0 }
	}
	s := &Session{
		cfg:    cfg,
		tz:     cfg.Codec.TZ,
		loop:   NewLoop(64),
		ctx:    context.Background(),
		scores: []model.Score{},
	}
	s.st = state.New(s.tz.Today())
	s.st.Subscribe(s.onChange)
	return s
}

// Run processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	return s.loop.Run(ctx)
}

// Load decodes fragment, adds principal as an attendee and issues the
// initial fetches. Fragment parse errors are logged, not returned.
func (s *Session) Load(ctx context.Context, fragment, principal string) error {
	return s.loop.Do(ctx, func() {
		if err := s.cfg.Codec.Decode(fragment, s.st, principal); err != nil {
			slog.Warn("fragment partially applied", "err", err)
		}
		s.loaded = true
		s.fetchAll()
		s.encode()
	})
}

// Update applies fn to the state on the loop. Subscribers are notified once.
func (s *Session) Update(ctx context.Context, fn func(*state.Store)) error {
	return s.loop.Do(ctx, func() { s.st.Batch(fn) })
}

// Snapshot returns the current view.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.loop.Do(ctx, func() {
		v = View{
			Values:    s.st.Snapshot(),
			Fragment:  s.fragment,
			Rooms:     cloneAll(s.rooms),
			Attendees: cloneAll(s.attendees),
			Scores:    slices.Clone(s.scores),
			Filters:   s.cfg.Engine.Presentation(s.st, s.original),
		}
		if s.grid != nil {
			g := *s.grid
			v.Grid = &g
		}
	})
	return v, err
}

// Fragment returns the current encoding of the state.
func (s *Session) Fragment(ctx context.Context) (string, error) {
	var f string
	err := s.loop.Do(ctx, func() { f = s.fragment })
	return f, err
}

// ApplyRecurrence validates r, asks the fetcher for its first occurrence
// and stores the confirmed rule. r.Day is a browser-local midnight; zero
// means the current day.
func (s *Session) ApplyRecurrence(ctx context.Context, r recurrence.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var q model.Query
	var offset int
	if err := s.loop.Do(ctx, func() {
		q = s.query()
		offset = s.offset()
		if r.Day == 0 {
			r.Day = q.Day
		} else {
			r.Day = s.tz.ToLocationTime(r.Day, offset)
		}
	}); err != nil {
		return err
	}
	r.Active = true
	q.Recurrence = recurrence.FormatForQuery(r)

	info, err := s.cfg.Fetcher.RepInfo(ctx, q)
	if err != nil {
		return fmt.Errorf("recurrence description: %w", err)
	}
	return s.loop.Do(ctx, func() {
		confirmed := recurrence.Confirm(r, s.tz.ToBrowserTime(info.First, s.offset()), info.Description)
		s.st.ApplyRecurrence(confirmed, s.tz.Today())
	})
}

// ResetRecurrence deactivates the recurrence and returns to today.
func (s *Session) ResetRecurrence(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		s.st.ApplyRecurrence(recurrence.Default(), s.tz.Today())
	})
}

// ─── Loop Handlers ────────────────────────────────────────────────────────────

func (s *Session) offset() int { return s.cfg.Offset(s.st.Location()) }

// query builds the fetch parameters from the current state. Only a
// confirmed recurrence constrains the fetch.
func (s *Session) query() model.Query {
	return model.Query{
		Day:        s.tz.ToLocationTime(s.st.Day(), s.offset()),
		Timeframe:  s.st.Timeframe(),
		Location:   s.st.Location(),
		Recurrence: recurrence.Constraint(s.st.Recurrence()),
	}
}

func (s *Session) onChange(c state.Change) {
	if !s.loaded {
		return
	}
	if c.Refetch() {
		s.fetchAll()
	} else {
		if c.Has(state.KeyAttendees) {
			s.syncAttendees()
		}
		if len(c.Fields()) > 0 {
			s.refilter()
		}
	}
	s.encode()
}

func (s *Session) encode() {
	f := s.cfg.Codec.Encode(s.st.Snapshot(), s.cfg.Engine.Fields())
	if f == s.fragment {
		return
	}
	s.fragment = f
	if s.cfg.OnFragment != nil {
		s.cfg.OnFragment(f)
	}
}

func (s *Session) report(kind string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrStale):
		slog.Debug("stale response dropped", "kind", kind, "err", err)
	default:
		slog.Warn("fetch failed", "kind", kind, "err", err)
	}
	if s.cfg.OnResponse != nil {
		s.cfg.OnResponse(kind, err)
	}
}

// stale reports whether a response to q, carrying day, no longer matches
// the current query. Day, timeframe, site and recurrence all count.
func (s *Session) stale(q model.Query, day int64) error {
	cur := s.query()
	if day != cur.Day {
		return fmt.Errorf("%w: day %d, current %d", ErrStale, day, cur.Day)
	}
	if issued, now := q.Values().Encode(), cur.Values().Encode(); issued != now {
		return fmt.Errorf("%w: query %s, current %s", ErrStale, issued, now)
	}
	return nil
}

func (s *Session) fetchAll() {
	q := s.query()
	ctx := s.ctx
	f := s.cfg.Fetcher

	go func() {
		p, err := f.Rooms(ctx, q)
		s.loop.Post(func() { s.onRooms(q, p, err) })
	}()
	go func() {
		p, err := f.TimeMask(ctx, q)
		s.loop.Post(func() { s.onGrid(q, p, err) })
	}()

	emails := s.st.Attendees()
	if len(emails) == 0 {
		s.attendees = nil
		s.rescore()
		return
	}
	go func() {
		p, err := f.Attendees(ctx, q, emails)
		s.loop.Post(func() { s.onAttendees(q, p, err) })
	}()
}

func (s *Session) onRooms(q model.Query, p *model.SchedulePayload, err error) {
	if err == nil {
		err = s.stale(q, p.Day)
	}
	if err != nil {
		s.report(KindRooms, err)
		return
	}
	list := cloneAll(p.Schedule)
	slots.PatchAll(list)
	s.original = list
	s.refilter()
	s.report(KindRooms, nil)
}

func (s *Session) onGrid(q model.Query, p *model.TimeMaskPayload, err error) {
	if err == nil {
		err = s.stale(q, p.Day)
	}
	var g *timegrid.Grid
	if err == nil {
		g, err = timegrid.FromMask(p.TimeMask)
	}
	if err != nil {
		s.report(KindGrid, err)
		return
	}
	s.grid = g
	s.refilter()
	s.report(KindGrid, nil)
}

func (s *Session) onAttendees(q model.Query, p *model.AttendeePayload, err error) {
	if err == nil {
		err = s.stale(q, p.Day)
	}
	if err != nil {
		s.report(KindAttendees, err)
		return
	}
	s.attendees = nil
	for _, a := range p.Result {
		s.addAttendeeSchedule(a)
	}
	s.keepListed()
	s.rescore()
	s.report(KindAttendees, nil)
}

// syncAttendees drops schedules of removed attendees and fetches the
// schedules of added ones individually.
func (s *Session) syncAttendees() {
	s.keepListed()
	s.rescore()

	q := s.query()
	ctx := s.ctx
	for _, email := range s.st.Attendees() {
		if s.hasAttendee(email) {
			continue
		}
		go func(email string) {
			p, err := s.cfg.Fetcher.Attendee(ctx, q, email)
			s.loop.Post(func() { s.onAttendee(q, email, p, err) })
		}(email)
	}
}

func (s *Session) onAttendee(q model.Query, email string, p *model.Schedule, err error) {
	if err == nil {
		err = s.stale(q, q.Day)
	}
	if err == nil && !slices.Contains(s.st.Attendees(), email) {
		err = fmt.Errorf("%w: attendee %s was removed", ErrStale, email)
	}
	if err != nil {
		s.report(KindAttendee, err)
		return
	}
	s.addAttendeeSchedule(*p)
	s.rescore()
	s.report(KindAttendee, nil)
}

func (s *Session) addAttendeeSchedule(a model.Schedule) {
	if s.hasAttendee(a.Key()) {
		return
	}
	a = a.Clone()
	slots.Patch(&a)
	s.attendees = append(s.attendees, a)
}

func (s *Session) hasAttendee(addr string) bool {
	for _, a := range s.attendees {
		if a.Key() == addr {
			return true
		}
	}
	return false
}

// keepListed drops fetched schedules whose attendee left the state.
func (s *Session) keepListed() {
	listed := s.st.Attendees()
	s.attendees = slices.DeleteFunc(s.attendees, func(a model.Schedule) bool {
		return !slices.Contains(listed, a.Key())
	})
}

func (s *Session) rescore() {
	s.scores = score.Score(s.attendees, s.tz.NowMillis())
}

// refilter narrows the fetched rooms and appends the placeholder room
// built from the current grid.
func (s *Session) refilter() {
	rooms := s.cfg.Engine.Apply(s.st, s.original)
	rooms = slices.DeleteFunc(slices.Clone(rooms), timegrid.IsPlaceholder)
	if s.grid != nil {
		rooms = append(rooms, s.grid.Synthesize())
	}
	s.rooms = rooms
}

func cloneAll(list []model.Schedule) []model.Schedule {
	out := make([]model.Schedule, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
