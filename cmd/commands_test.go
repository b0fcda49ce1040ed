package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rookboom/rookboom/internal/booking"
	"github.com/rookboom/rookboom/internal/config"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/store"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

const halfHour = int64(30 * time.Minute / time.Millisecond)

func zero[T any](p *T) {
	var z T
	*p = z
}

// resetFlags restores every package-level flag value, since cobra only
// writes the flags present on a command line.
func resetFlags() {
	zero(&globalFlags)
	zero(&fetchFlags)
	zero(&filterFlags)
	zero(&gridFlags)
	zero(&hashEncodeFlags)
	zero(&recurrenceFlags)
	zero(&scoreFlags)
	zero(&viewFlags)
	recurrenceFlags.Pattern = string(recurrence.Weekly)
	recurrenceFlags.Interval = 1
	recurrenceFlags.Week = 1
	recurrenceFlags.EndAfter = 1
	viewFlags.Show = "rooms"
	storeListBucket = ""
	cacheClearAll = false
	cacheClearBucket = ""
	zero(&cachePruneFlags)
	configInitForce = false
	render.Location = time.Local
}

// workspace isolates a test from config.json, sites.yaml, .env and the
// ROOKBOOM_* environment.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvPrincipal, "")
	return dir
}

// run executes the root command with args and returns what it wrote to
// stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--quiet"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("rookboom %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// records decodes JSONL table output.
func records(t *testing.T, out string) []map[string]string {
	t.Helper()
	var recs []map[string]string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec map[string]string
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func lookup(recs []map[string]string, key string) (string, bool) {
	for _, r := range recs {
		if r["KEY"] == key {
			return r["VALUE"], true
		}
	}
	return "", false
}

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// daySlots returns four half-hour slots from 09:00 UTC of day; busy lists
// the indexes holding an event.
func daySlots(day int64, busy ...int) []model.TimeSlot {
	start := day + 9*2*halfHour
	out := make([]model.TimeSlot, 4)
	for i := range out {
		out[i] = model.TimeSlot{From: start + int64(i)*halfHour, To: start + int64(i+1)*halfHour}
		for _, b := range busy {
			if b == i {
				out[i].Busy = true
				out[i].EventID = int64(100 + i)
			}
		}
	}
	return out
}

func rooms(day int64) []model.Schedule {
	return []model.Schedule{
		{Room: &model.Room{Name: "Aspen", Email: "aspen@example.com", Attributes: model.Attributes{"capacity": "4", "floor": "2"}}, Slots: daySlots(day, 1)},
		{Room: &model.Room{Name: "Birch", Email: "birch@example.com", Attributes: model.Attributes{"capacity": "8", "floor": "3", "video": "true"}}, Slots: daySlots(day)},
	}
}

func userSchedule(email string, day int64) model.Schedule {
	var busy []int
	if strings.HasPrefix(email, "grace") {
		busy = []int{1}
	}
	return model.Schedule{User: &model.User{Address: email}, Slots: daySlots(day, busy...)}
}

// bookingServer serves the schedule endpoints, echoing the requested day.
// The returned counter tracks requests.
func bookingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	day := func(r *http.Request) int64 {
		d, _ := strconv.ParseInt(r.URL.Query().Get("day"), 10, 64)
		return d
	}
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		d := day(r)
		reply(w, model.SchedulePayload{Day: d, Schedule: rooms(d)})
	})
	mux.HandleFunc("/schedule/users", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		d := day(r)
		p := model.AttendeePayload{Day: d}
		for _, e := range strings.Split(r.URL.Query().Get("emails"), ",") {
			p.Result = append(p.Result, userSchedule(e, d))
		}
		reply(w, p)
	})
	mux.HandleFunc("/schedule/user", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		reply(w, userSchedule(r.URL.Query().Get("email"), day(r)))
	})
	mux.HandleFunc("/schedule/timemask", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		d := day(r)
		var frames []int64
		for _, ts := range daySlots(d) {
			frames = append(frames, ts.From)
		}
		reply(w, model.TimeMaskPayload{Day: d, TimeMask: model.TimeMask{Frames: frames, Interval: halfHour}})
	})
	mux.HandleFunc("/schedule/rep-info", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		from, _ := strconv.ParseInt(r.URL.Query().Get("repFrom"), 10, 64)
		reply(w, model.RepInfo{First: from + 5*24*int64(time.Hour/time.Millisecond), Description: "Every Tuesday"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

// ─── hash ─────────────────────────────────────────────────────────────────────

func TestHashEncodeDecodeRoundTrip(t *testing.T) {
	workspace(t)

	out := mustRun(t, "hash", "encode", "--date", "2099-1-2", "--attendee", "ada", "--select", "capacity=5-10", "--at", "NY")
	fragment := strings.TrimSpace(out)
	want := "#date=2099-1-2&attendees=ada&filters=capacity:%5B%225-10%22%5D&at=NY"
	if fragment != want {
		t.Fatalf("encode = %q, want %q", fragment, want)
	}

	recs := records(t, mustRun(t, "hash", "decode", fragment, "--format", "jsonl"))
	if got, _ := lookup(recs, "fragment"); got != fragment {
		t.Errorf("re-encoded fragment = %q, want %q", got, fragment)
	}
	if got, _ := lookup(recs, "attendees"); got != "ada@example.com" {
		t.Errorf("attendees = %q", got)
	}
	if got, _ := lookup(recs, "at"); got != "NY" {
		t.Errorf("at = %q", got)
	}
}

func TestHashDecodeReportsBadSegments(t *testing.T) {
	workspace(t)
	out, err := run(t, "hash", "decode", "#date=2099-1-2&timeframe=Dusk", "--format", "jsonl")
	if err != nil {
		t.Fatalf("a bad segment should not fail the command: %v", err)
	}
	recs := records(t, out)
	if got, _ := lookup(recs, "timeframe"); got != string(model.DefaultTimeframe) {
		t.Errorf("timeframe = %q, want default", got)
	}
}

// ─── filter & score ───────────────────────────────────────────────────────────

func TestFilterApplyFromFile(t *testing.T) {
	dir := workspace(t)
	day := time.Date(2099, 3, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	in := writeFile(t, dir, "rooms.json", model.SchedulePayload{Day: day, Schedule: rooms(day)})

	out := mustRun(t, "filter", "apply", in, "--select", "capacity=5-10", "--format", "json")
	var res struct {
		Kind string           `json:"kind"`
		Data []model.Schedule `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if res.Kind != model.KindSchedules {
		t.Errorf("kind = %q", res.Kind)
	}
	if len(res.Data) != 1 || res.Data[0].Name() != "Birch" {
		t.Fatalf("filtered = %+v, want only Birch", res.Data)
	}

	// The JSON envelope pipes straight back in.
	again := writeFile(t, dir, "filtered.json", json.RawMessage(out))
	out = mustRun(t, "filter", "apply", again, "--fragment", "#filters=floor:%5B%223%22%5D", "--format", "jsonl")
	if n := strings.Count(strings.TrimSpace(out), "\n") + 1; n != 1 {
		t.Errorf("expected one room after floor filter, got %d lines:\n%s", n, out)
	}
}

func TestScoreClassifiesFrames(t *testing.T) {
	dir := workspace(t)
	day := time.Date(2099, 3, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	in := writeFile(t, dir, "attendees.json", model.AttendeePayload{Day: day, Result: []model.Schedule{
		userSchedule("ada@example.com", day),
		userSchedule("grace@example.com", day),
	}})

	out := mustRun(t, "score", in, "--now", "2099-03-05T00:00:00Z", "--format", "json")
	var res struct {
		Data []model.Score `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if len(res.Data) != 4 {
		t.Fatalf("scores = %d, want 4", len(res.Data))
	}
	want := []model.Match{model.MatchAll, model.MatchPoor, model.MatchAll, model.MatchAll}
	for i, s := range res.Data {
		if s.Match != want[i] {
			t.Errorf("frame %d match = %q, want %q", i, s.Match, want[i])
		}
	}

	chart := mustRun(t, "score", in, "--now", "2099-03-05T00:00:00Z", "--chart")
	if !strings.HasPrefix(chart, "all   3") || !strings.Contains(chart, "poor  1") {
		t.Errorf("unexpected chart:\n%s", chart)
	}
}

// ─── grid & recurrence ────────────────────────────────────────────────────────

func TestGridShowListsFrames(t *testing.T) {
	dir := workspace(t)
	day := time.Date(2099, 3, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	var frames []int64
	for _, ts := range daySlots(day) {
		frames = append(frames, ts.From)
	}
	in := writeFile(t, dir, "mask.json", model.TimeMaskPayload{Day: day, TimeMask: model.TimeMask{Frames: frames, Interval: halfHour}})

	recs := records(t, mustRun(t, "grid", "show", in, "--at", "LON", "--format", "jsonl"))
	if len(recs) != 4 {
		t.Fatalf("frames = %d, want 4", len(recs))
	}
	if recs[0]["HOUR"] != "yes" || recs[1]["HOUR"] != "" || recs[2]["HOUR"] != "yes" {
		t.Errorf("hour marks = %q %q %q", recs[0]["HOUR"], recs[1]["HOUR"], recs[2]["HOUR"])
	}

	bad := writeFile(t, dir, "bad.json", model.TimeMask{Frames: []int64{0, halfHour, 3 * halfHour}, Interval: halfHour})
	if _, err := run(t, "grid", "show", bad); err == nil {
		t.Error("expected error for an irregular grid")
	}
}

func TestRecurrenceParamsAndRRule(t *testing.T) {
	workspace(t)

	out := mustRun(t, "recurrence", "params", "--pattern", "monthly", "--week", "2", "--days", "2", "--end-after", "3", "--date", "2099-3-5", "--format", "json")
	var res struct {
		Data map[string][]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	for k, want := range map[string]string{"repPattern": "monthly", "repWeek": "2", "repDays": "2", "repInterval": "1"} {
		if got := res.Data[k]; len(got) != 1 || got[0] != want {
			t.Errorf("%s = %v, want %s", k, got, want)
		}
	}

	line := strings.TrimSpace(mustRun(t, "recurrence", "rrule", "--interval", "2", "--days", "1,3", "--date", "2099-3-5"))
	if !strings.HasPrefix(line, "RRULE:FREQ=WEEKLY;INTERVAL=2") || !strings.Contains(line, "BYDAY=MO,WE") {
		t.Errorf("rrule = %q", line)
	}

	if _, err := run(t, "recurrence", "params", "--pattern", "yearly"); err == nil {
		t.Error("expected error for an unknown pattern")
	}
}

func TestRecurrencePreviewRemote(t *testing.T) {
	workspace(t)
	srv, hits := bookingServer(t)

	recs := records(t, mustRun(t, "recurrence", "preview", "--remote", "--days", "2", "--date", "2099-3-5", "--base-url", srv.URL, "--format", "jsonl"))
	if got, _ := lookup(recs, "description"); got != "Every Tuesday" {
		t.Errorf("description = %q", got)
	}
	if hits.Load() != 1 {
		t.Errorf("service requests = %d, want 1", hits.Load())
	}
}

// ─── fetch & store ────────────────────────────────────────────────────────────

func TestFetchAllStoreAndCachedRead(t *testing.T) {
	dir := workspace(t)
	srv, hits := bookingServer(t)
	db := filepath.Join(dir, "rookboom.db")

	recs := records(t, mustRun(t, "fetch", "all", "--base-url", srv.URL, "--db", db, "--date", "2099-3-5",
		"--attendee", "ada", "--attendee", "grace", "--store", "--format", "jsonl"))
	items := map[string]string{}
	for _, r := range recs {
		items[r["PAYLOAD"]] = r["ITEMS"]
	}
	want := map[string]string{store.BucketRooms: "2", store.BucketGrids: "4", store.BucketAttendees: "2"}
	for bucket, n := range want {
		if items[bucket] != n {
			t.Errorf("%s items = %q, want %s", bucket, items[bucket], n)
		}
	}
	if hits.Load() != 3 {
		t.Errorf("service requests = %d, want 3", hits.Load())
	}

	listed := records(t, mustRun(t, "store", "list", "--db", db, "--format", "jsonl"))
	if len(listed) != 3 {
		t.Fatalf("stored payloads = %d, want 3", len(listed))
	}

	stats := records(t, mustRun(t, "cache", "stats", "--db", db, "--format", "jsonl"))
	for _, s := range stats {
		if s["ROWS"] != "1" {
			t.Errorf("bucket %s rows = %q, want 1", s["BUCKET"], s["ROWS"])
		}
	}

	// A cached read answers without the service.
	srv.Close()
	out := mustRun(t, "fetch", "rooms", "--base-url", srv.URL, "--db", db, "--date", "2099-3-5", "--cached", "--format", "json")
	var res struct {
		Data  []model.Schedule  `json:"data"`
		Stats model.ResultStats `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if len(res.Data) != 2 || !res.Stats.CacheHit {
		t.Errorf("cached rooms = %d (cache hit %v)", len(res.Data), res.Stats.CacheHit)
	}

	for _, r := range listed {
		if r["BUCKET"] != store.BucketGrids {
			continue
		}
		out := mustRun(t, "store", "get", store.BucketGrids, r["KEY"], "--db", db, "--format", "json")
		var grid struct {
			Kind string                `json:"kind"`
			Data model.TimeMaskPayload `json:"data"`
		}
		if err := json.Unmarshal([]byte(out), &grid); err != nil {
			t.Fatalf("decoding stored grid: %v", err)
		}
		if grid.Kind != model.KindGrid || len(grid.Data.TimeMask.Frames) != 4 {
			t.Errorf("stored grid = %s with %d frames", grid.Kind, len(grid.Data.TimeMask.Frames))
		}
	}

	// Everything was fetched for 2099-3-5, so pruning before it keeps it all
	// and pruning before the next day empties the store.
	if out := mustRun(t, "cache", "prune", "--db", db, "--before", "2099-3-5"); !strings.Contains(out, "Pruned 0 payloads") {
		t.Errorf("prune before the fetched day:\n%s", out)
	}
	if out := mustRun(t, "cache", "prune", "--db", db, "--before", "2099-3-6"); !strings.Contains(out, "Pruned 3 payloads") {
		t.Errorf("prune after the fetched day:\n%s", out)
	}

	mustRun(t, "cache", "clear", "--db", db, "--all")
	if out := mustRun(t, "store", "list", "--db", db); !strings.Contains(out, "No payloads") {
		t.Errorf("store not cleared:\n%s", out)
	}
}

func TestStoreFetcherReadThrough(t *testing.T) {
	dir := t.TempDir()
	srv, hits := bookingServer(t)
	s, err := store.Open(filepath.Join(dir, "rookboom.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	client := booking.NewClient(srv.URL, 5*time.Second, 100, false)
	f := newStoreFetcher(client, s, true)
	q := model.Query{Day: time.Date(2099, 3, 5, 0, 0, 0, 0, time.UTC).UnixMilli(), Location: "SF"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.Rooms(ctx, q); err != nil {
			t.Fatal(err)
		}
		if _, err := f.Attendee(ctx, q, "ada@example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("service requests = %d, want 2", hits.Load())
	}
	if f.Hits() != 2 {
		t.Errorf("store hits = %d, want 2", f.Hits())
	}

	// Without read the store is written but never consulted.
	w := newStoreFetcher(client, s, false)
	if _, err := w.Rooms(ctx, q); err != nil {
		t.Fatal(err)
	}
	if w.Hits() != 0 || hits.Load() != 3 {
		t.Errorf("write-only fetcher: hits %d, requests %d", w.Hits(), hits.Load())
	}
}

// ─── view ─────────────────────────────────────────────────────────────────────

func TestViewState(t *testing.T) {
	workspace(t)
	srv, _ := bookingServer(t)

	recs := records(t, mustRun(t, "view", "#attendees=ada,grace&at=NY", "--base-url", srv.URL,
		"--select", "capacity=5-10", "--show", "state", "--format", "jsonl"))
	checks := map[string]string{
		"attendees":          "ada@example.com,grace@example.com",
		"at":                 "NY",
		"attendee schedules": "2",
		"frames":             "4",
	}
	for k, want := range checks {
		if got, ok := lookup(recs, k); !ok || got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	frag, _ := lookup(recs, "fragment")
	if !strings.Contains(frag, "filters=capacity:%5B%225-10%22%5D") {
		t.Errorf("fragment %q lacks the selection", frag)
	}
}

func TestViewScores(t *testing.T) {
	workspace(t)
	srv, _ := bookingServer(t)

	out := mustRun(t, "view", "#attendees=ada,grace", "--base-url", srv.URL, "--show", "scores", "--format", "json")
	var res struct {
		Data []model.Score `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if len(res.Data) != 4 {
		t.Fatalf("scores = %d, want 4", len(res.Data))
	}
}

func TestViewConfirmsAndResetsRecurrence(t *testing.T) {
	workspace(t)
	srv, _ := bookingServer(t)

	recs := records(t, mustRun(t, "view", "#attendees=ada", "--base-url", srv.URL,
		"--recurrence", `{"pattern":"weekly","days":[2]}`, "--show", "state", "--format", "jsonl"))
	rec, _ := lookup(recs, "recurrence")
	if rec == "" || strings.Contains(rec, "unconfirmed") {
		t.Errorf("recurrence = %q, want a confirmed rule", rec)
	}
	frag, _ := lookup(recs, "fragment")
	if !strings.Contains(frag, "recurrence=") {
		t.Errorf("fragment %q lacks the rule", frag)
	}

	recs = records(t, mustRun(t, "view", "#attendees=ada", "--base-url", srv.URL,
		"--recurrence", "none", "--show", "state", "--format", "jsonl"))
	if rec, _ := lookup(recs, "recurrence"); rec != "" {
		t.Errorf("recurrence after reset = %q", rec)
	}
}

func TestViewRejectsUnknownShow(t *testing.T) {
	workspace(t)
	if _, err := run(t, "view", "--show", "everything"); err == nil {
		t.Error("expected error for unknown --show")
	}
}

// ─── config ───────────────────────────────────────────────────────────────────

func TestConfigInitAndSites(t *testing.T) {
	dir := workspace(t)

	mustRun(t, "config", "init")
	for _, name := range []string{config.DefaultConfigFile, config.DefaultSitesFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	if _, err := run(t, "config", "init"); err == nil {
		t.Error("expected error when config.json exists")
	}

	mustRun(t, "config", "set", "principal", "ada@example.com")
	data, err := os.ReadFile(filepath.Join(dir, config.DefaultConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ada@example.com") {
		t.Errorf("principal not written:\n%s", data)
	}
	if _, err := run(t, "config", "set", "colour", "blue"); err == nil {
		t.Error("expected error for an unknown key")
	}

	sites := records(t, mustRun(t, "config", "sites", "--format", "jsonl"))
	if len(sites) != 3 {
		t.Fatalf("sites = %d, want 3", len(sites))
	}
	for _, s := range sites {
		if (s["SITE"] == "SF") != (s["DEFAULT"] == "yes") {
			t.Errorf("default marker on %+v", s)
		}
	}
}

// ─── version ──────────────────────────────────────────────────────────────────

func TestVersionJSON(t *testing.T) {
	workspace(t)
	var info versionInfo
	if err := json.Unmarshal([]byte(mustRun(t, "version", "--format", "json")), &info); err != nil {
		t.Fatalf("decoding version: %v", err)
	}
	if info.Version != Version || info.GoVersion == "" {
		t.Errorf("version info = %+v", info)
	}
	if text := mustRun(t, "version"); !strings.HasPrefix(text, "rookboom "+Version+"\n") {
		t.Errorf("text version = %q", text)
	}
}
