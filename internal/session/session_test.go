package session_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rookboom/rookboom/internal/filter"
	"github.com/rookboom/rookboom/internal/hash"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/session"
	"github.com/rookboom/rookboom/internal/state"
	"github.com/rookboom/rookboom/internal/tz"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

const (
	halfHour = int64(30 * 60 * 1000)
	oneDay   = int64(24 * 3600 * 1000)
)

var now = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func midnight(d int) int64 { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC).UnixMilli() }

// fake serves deterministic payloads for any query. Rooms and grid calls
// block while gates holds an open channel for "kind@day", "kind@timeframe"
// or "kind@site" of their query.
type fake struct {
	mu         sync.Mutex
	gates      map[string]chan struct{}
	roomsErr   error
	badGrid    bool
	calls      map[string]int
	lastRooms  model.Query
	lastRepInf model.Query
}

func newFake() *fake {
	return &fake{gates: map[string]chan struct{}{}, calls: map[string]int{}}
}

// gate must be called with f.mu held.
func (f *fake) gate(kind string, q model.Query) chan struct{} {
	for _, k := range []string{strconv.FormatInt(q.Day, 10), string(q.Timeframe), q.Location} {
		if g := f.gates[kind+"@"+k]; g != nil {
			return g
		}
	}
	return nil
}

// frameStart moves the grid per timeframe and site so responses to
// different queries of one day can be told apart.
func frameStart(q model.Query) int64 {
	h := int64(9)
	switch q.Timeframe {
	case model.TimeframeMorning:
		h = 7
	case model.TimeframeNight:
		h = 18
	}
	if q.Location == "NY" {
		h++
	}
	return q.Day + h*2*halfHour
}

func (f *fake) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func daySlots(day int64, busy ...bool) []model.TimeSlot {
	var out []model.TimeSlot
	start := day + 9*2*halfHour
	for i, b := range busy {
		from := start + int64(i)*halfHour
		var id int64
		if b {
			id = 1
		}
		out = append(out, model.TimeSlot{EventID: id, From: from, To: from + halfHour, Busy: b})
	}
	return out
}

func (f *fake) Rooms(_ context.Context, q model.Query) (*model.SchedulePayload, error) {
	f.mu.Lock()
	f.calls["rooms"]++
	f.lastRooms = q
	gate := f.gate("rooms", q)
	err := f.roomsErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	day := strconv.FormatInt(q.Day, 10)
	mk := func(name, building string) model.Schedule {
		return model.Schedule{
			Room:  &model.Room{Name: name, Email: strings.ToLower(name) + "@corp.example", Attributes: model.Attributes{"building": building, "day": day, "tf": string(q.Timeframe), "at": q.Location}},
			Slots: daySlots(q.Day, false, true, true, false),
		}
	}
	return &model.SchedulePayload{
		Day:      q.Day,
		Schedule: []model.Schedule{mk("Aspen", "HQ"), mk("Birch", "Annex"), mk("Cedar", "HQ")},
	}, nil
}

func (f *fake) userSchedule(q model.Query, email string) model.Schedule {
	busy := strings.HasPrefix(email, "bob")
	return model.Schedule{User: &model.User{Address: email}, Slots: daySlots(q.Day, false, busy, false, false)}
}

func (f *fake) Attendees(_ context.Context, q model.Query, emails []string) (*model.AttendeePayload, error) {
	f.mu.Lock()
	f.calls["attendees"]++
	f.mu.Unlock()
	p := &model.AttendeePayload{Day: q.Day}
	for _, e := range emails {
		p.Result = append(p.Result, f.userSchedule(q, e))
	}
	return p, nil
}

func (f *fake) Attendee(_ context.Context, q model.Query, email string) (*model.Schedule, error) {
	f.mu.Lock()
	f.calls["attendee"]++
	f.mu.Unlock()
	s := f.userSchedule(q, email)
	return &s, nil
}

func (f *fake) TimeMask(_ context.Context, q model.Query) (*model.TimeMaskPayload, error) {
	f.mu.Lock()
	f.calls["grid"]++
	bad := f.badGrid
	gate := f.gate("grid", q)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	start := frameStart(q)
	frames := []int64{start, start + halfHour, start + 2*halfHour, start + 3*halfHour}
	if bad {
		frames[2]++
	}
	return &model.TimeMaskPayload{Day: q.Day, TimeMask: model.TimeMask{Frames: frames, Interval: halfHour}}, nil
}

func (f *fake) RepInfo(_ context.Context, q model.Query) (*model.RepInfo, error) {
	f.mu.Lock()
	f.calls["repinfo"]++
	f.lastRepInf = q
	f.mu.Unlock()
	return &model.RepInfo{First: q.Day + 3*oneDay, Description: "Every week on Monday"}, nil
}

type event struct {
	kind string
	err  error
}

type harness struct {
	s       *session.Session
	f       *fake
	events  chan event
	frags   chan string
	pending []event
}

func start(t *testing.T, f *fake) *harness {
	t.Helper()
	engine, err := filter.NewEngine([]filter.Descriptor{{ID: "building", Kind: filter.KindValue, Field: "building"}})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{f: f, events: make(chan event, 100), frags: make(chan string, 100)}
	h.s = session.New(session.Config{
		Fetcher: f,
		Engine:  engine,
		Codec: hash.Codec{
			Domain: "corp.example",
			TZ:     tz.Adjuster{Local: time.UTC, Now: func() time.Time { return now }},
		},
		OnFragment: func(s string) { h.frags <- s },
		OnResponse: func(kind string, err error) { h.events <- event{kind, err} },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.s.Run(ctx) }()
	return h
}

// waitFor returns the next event of kind, keeping other kinds queued.
func (h *harness) waitFor(t *testing.T, kind string) error {
	t.Helper()
	for i, ev := range h.pending {
		if ev.kind == kind {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return ev.err
		}
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.kind == kind {
				return ev.err
			}
			h.pending = append(h.pending, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %s response", kind)
		}
	}
}

func (h *harness) view(t *testing.T) session.View {
	t.Helper()
	v, err := h.s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func roomNames(v session.View) []string {
	var out []string
	for _, r := range v.Rooms {
		out = append(out, r.Name())
	}
	return out
}

func load(t *testing.T, h *harness, fragment, principal string) {
	t.Helper()
	if err := h.s.Load(context.Background(), fragment, principal); err != nil {
		t.Fatal(err)
	}
}

// ─── Load ─────────────────────────────────────────────────────────────────────

func TestLoadFetchesFiltersAndScores(t *testing.T) {
	h := start(t, newFake())
	load(t, h, `date=2024-3-5&filters=building:["HQ"]`, "ada@corp.example")
	for _, k := range []string{session.KindRooms, session.KindGrid, session.KindAttendees} {
		if err := h.waitFor(t, k); err != nil {
			t.Fatalf("%s: %v", k, err)
		}
	}
	v := h.view(t)
	if got := strings.Join(roomNames(v), ","); got != "Aspen,Cedar,Anywhere" {
		t.Errorf("rooms: expected Aspen,Cedar,Anywhere, got %s", got)
	}
	if v.Rooms[0].Slots[1].Length != 2 || !v.Rooms[0].Slots[1].FirstFrame {
		t.Errorf("fetched rooms should be run-length patched: %+v", v.Rooms[0].Slots)
	}
	if len(v.Attendees) != 1 || v.Attendees[0].Key() != "ada@corp.example" {
		t.Errorf("principal should be an attendee: %+v", v.Attendees)
	}
	if len(v.Scores) != 4 {
		t.Errorf("expected 4 scored frames, got %d", len(v.Scores))
	}
	if !strings.Contains(v.Fragment, "attendees=ada") || !strings.Contains(v.Fragment, "filters=building:") {
		t.Errorf("unexpected fragment: %s", v.Fragment)
	}
	if v.Values.Day != midnight(5) {
		t.Errorf("day: expected March 5, got %d", v.Values.Day)
	}
}

func TestFieldChangeRefiltersWithoutFetch(t *testing.T) {
	h := start(t, newFake())
	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindRooms)
	h.waitFor(t, session.KindGrid)
	before := h.f.count("rooms")

	err := h.s.Update(context.Background(), func(s *state.Store) { s.AddValue("building", "Annex") })
	if err != nil {
		t.Fatal(err)
	}
	v := h.view(t)
	if got := strings.Join(roomNames(v), ","); got != "Birch,Anywhere" {
		t.Errorf("rooms: expected Birch,Anywhere, got %s", got)
	}
	if h.f.count("rooms") != before {
		t.Error("a filter change must not refetch")
	}
	if !strings.Contains(v.Fragment, "filters=building:%5B%22Annex%22%5D") {
		t.Errorf("fragment not re-encoded: %s", v.Fragment)
	}
}

// ─── Staleness ────────────────────────────────────────────────────────────────

func TestStaleResponseDropped(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gates["rooms@"+strconv.FormatInt(midnight(5), 10)] = gate
	h := start(t, f)

	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindGrid)

	if err := h.s.Update(context.Background(), func(s *state.Store) { s.SetDay(midnight(6)) }); err != nil {
		t.Fatal(err)
	}
	if err := h.waitFor(t, session.KindRooms); err != nil {
		t.Fatalf("current rooms response should apply: %v", err)
	}

	close(gate)
	err := h.waitFor(t, session.KindRooms)
	if !errors.Is(err, session.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	v := h.view(t)
	want := strconv.FormatInt(midnight(6), 10)
	if got := v.Rooms[0].Room.Attributes["day"]; got != want {
		t.Errorf("rooms should be from the current day %s, got %s", want, got)
	}
}

func TestSupersededSameDayResponseDropped(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		gated    string
		change   func(*state.Store)
		tf       model.Timeframe
		site     string
	}{
		{
			name:     "timeframe",
			fragment: "date=2024-3-5&timeframe=Morning",
			gated:    string(model.TimeframeMorning),
			change:   func(s *state.Store) { s.SetTimeframe(model.TimeframeNight) },
			tf:       model.TimeframeNight,
		},
		{
			name:     "site with the same offset",
			fragment: "date=2024-3-5&at=LON",
			gated:    "LON",
			change:   func(s *state.Store) { s.SetLocation("NY") },
			tf:       model.TimeframeDay,
			site:     "NY",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFake()
			rooms, grid := make(chan struct{}), make(chan struct{})
			f.gates["rooms@"+tc.gated] = rooms
			f.gates["grid@"+tc.gated] = grid
			h := start(t, f)

			load(t, h, tc.fragment, "")
			if err := h.s.Update(context.Background(), tc.change); err != nil {
				t.Fatal(err)
			}
			if err := h.waitFor(t, session.KindRooms); err != nil {
				t.Fatalf("current rooms response should apply: %v", err)
			}
			if err := h.waitFor(t, session.KindGrid); err != nil {
				t.Fatalf("current grid response should apply: %v", err)
			}

			close(rooms)
			close(grid)
			if err := h.waitFor(t, session.KindRooms); !errors.Is(err, session.ErrStale) {
				t.Errorf("late rooms: expected ErrStale, got %v", err)
			}
			if err := h.waitFor(t, session.KindGrid); !errors.Is(err, session.ErrStale) {
				t.Errorf("late grid: expected ErrStale, got %v", err)
			}

			v := h.view(t)
			attrs := v.Rooms[0].Room.Attributes
			if attrs["tf"] != string(tc.tf) || attrs["at"] != tc.site {
				t.Errorf("rooms from tf=%q at=%q, want tf=%q at=%q", attrs["tf"], attrs["at"], tc.tf, tc.site)
			}
			want := frameStart(model.Query{Day: midnight(5), Timeframe: tc.tf, Location: tc.site})
			if v.Grid == nil || v.Grid.Frames[0] != want {
				t.Errorf("grid should start at %d, got %+v", want, v.Grid)
			}
		})
	}
}

func TestFetchFailureKeepsState(t *testing.T) {
	f := newFake()
	h := start(t, f)
	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindRooms)

	f.mu.Lock()
	f.roomsErr = errors.New("boom")
	f.mu.Unlock()
	_ = h.s.Update(context.Background(), func(s *state.Store) { s.SetTimeframe(model.TimeframeNight) })
	if err := h.waitFor(t, session.KindRooms); err == nil {
		t.Fatal("expected fetch error")
	}
	v := h.view(t)
	if len(v.Rooms) == 0 || v.Rooms[0].Room.Attributes["day"] != strconv.FormatInt(midnight(5), 10) {
		t.Errorf("previous rooms should be kept: %v", roomNames(v))
	}
}

func TestMalformedGridKeepsPrevious(t *testing.T) {
	f := newFake()
	h := start(t, f)
	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindGrid)
	prev := h.view(t).Grid

	f.mu.Lock()
	f.badGrid = true
	f.mu.Unlock()
	_ = h.s.Update(context.Background(), func(s *state.Store) { s.SetLocation("NY") })
	if err := h.waitFor(t, session.KindGrid); err == nil {
		t.Fatal("expected malformed grid error")
	}
	if got := h.view(t).Grid; got == nil || got.Frames[0] != prev.Frames[0] {
		t.Error("previous grid should be kept")
	}
}

// ─── Attendees ────────────────────────────────────────────────────────────────

func TestAddAttendeeFetchesSingle(t *testing.T) {
	h := start(t, newFake())
	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindRooms)

	_ = h.s.Update(context.Background(), func(s *state.Store) {
		s.AddAttendee("ada@corp.example")
		s.AddAttendee("bob@corp.example")
	})
	h.waitFor(t, session.KindAttendee)
	h.waitFor(t, session.KindAttendee)
	v := h.view(t)
	if len(v.Attendees) != 2 {
		t.Fatalf("expected 2 attendees, got %d", len(v.Attendees))
	}
	if h.f.count("attendee") != 2 || h.f.count("attendees") != 0 {
		t.Errorf("expected two single lookups, got %d single and %d batch",
			h.f.count("attendee"), h.f.count("attendees"))
	}
	idx := map[int64]model.Match{}
	for _, sc := range v.Scores {
		idx[sc.From] = sc.Match
	}
	second := midnight(5) + 19*halfHour
	if idx[second] != model.MatchPoor {
		t.Errorf("one of two free should be poor, got %s", idx[second])
	}

	_ = h.s.Update(context.Background(), func(s *state.Store) { s.RemoveAttendee("bob@corp.example") })
	if v := h.view(t); len(v.Attendees) != 1 || v.Scores[1].Match != model.MatchAll {
		t.Errorf("removing an attendee should rescore: %+v", v.Scores)
	}
}

// ─── Recurrence ───────────────────────────────────────────────────────────────

func TestApplyRecurrence(t *testing.T) {
	h := start(t, newFake())
	load(t, h, "date=2024-3-5", "")
	h.waitFor(t, session.KindRooms)

	r := recurrence.Default()
	r.Days = []int{1}
	if err := h.s.ApplyRecurrence(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if err := h.waitFor(t, session.KindRooms); err != nil {
		t.Fatal(err)
	}
	h.f.mu.Lock()
	rep := h.f.lastRepInf
	rooms := h.f.lastRooms
	h.f.mu.Unlock()
	if rep.Recurrence.Get("repFrom") != strconv.FormatInt(midnight(5), 10) {
		t.Errorf("rep-info should start from the current day, got %v", rep.Recurrence)
	}
	if rooms.Recurrence.Get("repPattern") != "weekly" {
		t.Errorf("confirmed recurrence should constrain fetches, got %v", rooms.Recurrence)
	}
	v := h.view(t)
	if v.Values.Day != midnight(8) {
		t.Errorf("day should move to the first occurrence, got %d", v.Values.Day)
	}
	if !v.Values.Recurrence.Confirmed() {
		t.Error("recurrence should be confirmed")
	}
	if !strings.Contains(v.Fragment, "recurrence=") {
		t.Errorf("fragment should carry the recurrence: %s", v.Fragment)
	}
}

func TestApplyRecurrenceRejectsEmptyDays(t *testing.T) {
	h := start(t, newFake())
	load(t, h, "", "")
	if err := h.s.ApplyRecurrence(context.Background(), recurrence.Default()); err == nil {
		t.Fatal("expected validation error")
	}
	if h.f.count("repinfo") != 0 {
		t.Error("invalid rule must not be sent")
	}
}

func TestLoopRejectsAfterStop(t *testing.T) {
	l := session.NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = l.Run(ctx); close(done) }()
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLoopSkipsWorkAbandonedBeforeStart(t *testing.T) {
	l := session.NewLoop(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := l.Do(ctx, func() { ran = true }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	go func() { _ = l.Run(runCtx) }()
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("work abandoned by its caller must not run")
	}
}
