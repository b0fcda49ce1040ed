package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rookboom/rookboom/internal/app"
	"github.com/rookboom/rookboom/internal/booking"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/slots"
	"github.com/rookboom/rookboom/internal/store"
	"github.com/rookboom/rookboom/internal/timegrid"
	"github.com/rookboom/rookboom/internal/tz"
)

var fetchFlags struct {
	Date      string
	Timeframe string
	At        string
	Attendees []string
	Store     bool
	Cached    bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch schedules and the time grid from the booking service",
	Long: `Fetch one day of data for a site.

fetch rooms     — room schedules (GET /schedule)
fetch attendees — attendee schedules (GET /schedule/users)
fetch grid      — the day's time grid (GET /schedule/timemask)
fetch all       — all three concurrently

The requested day is the site's midnight on --date. Use --store to persist
payloads to the local database and --cached to answer from it when possible.`,
}

// ─── fetch rooms ──────────────────────────────────────────────────────────────

var fetchRoomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Fetch room schedules",
	Example: `  rookboom fetch rooms --date 2026-3-5 --at NY
  rookboom fetch rooms --timeframe Morning --format jsonl > rooms.jsonl
  rookboom fetch rooms --store`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, f, q, err := fetchSetup()
		if err != nil {
			return err
		}
		defer deps.Close()

		start := time.Now()
		p, err := f.Rooms(cmd.Context(), q)
		if err != nil {
			return err
		}
		list := p.Schedule
		slots.PatchAll(list)

		result := buildResult(model.KindSchedules, "fetch rooms", list, len(list))
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		result.Stats.CacheHit = f.Hits() > 0
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── fetch attendees ──────────────────────────────────────────────────────────

var fetchAttendeesCmd = &cobra.Command{
	Use:   "attendees",
	Short: "Fetch attendee schedules",
	Long: `Fetch the schedules of every --attendee plus the principal. Bare aliases
get the catalogue domain appended.`,
	Example: `  rookboom fetch attendees --attendee ada --attendee grace@example.com
  rookboom fetch attendees --attendee ada --format json | rookboom score`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, f, q, err := fetchSetup()
		if err != nil {
			return err
		}
		defer deps.Close()

		emails := fetchEmails(deps)
		if len(emails) == 0 {
			return fmt.Errorf("no attendees: pass --attendee or set a principal")
		}
		start := time.Now()
		p, err := f.Attendees(cmd.Context(), q, emails)
		if err != nil {
			return err
		}
		list := p.Result
		slots.PatchAll(list)

		result := buildResult(model.KindSchedules, "fetch attendees", list, len(list))
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		result.Stats.CacheHit = f.Hits() > 0
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── fetch grid ───────────────────────────────────────────────────────────────

var fetchGridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Fetch the time grid",
	Long: `Fetch the day's time grid. Table, CSV, TSV and Markdown output list the
frames; JSON and JSONL output keep the service payload so it can be piped
into 'grid show'.`,
	Example: `  rookboom fetch grid --date 2026-3-5 --at LON
  rookboom fetch grid --format json | rookboom grid show --at LON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, f, q, err := fetchSetup()
		if err != nil {
			return err
		}
		defer deps.Close()

		start := time.Now()
		p, err := f.TimeMask(cmd.Context(), q)
		if err != nil {
			return err
		}
		g, err := timegrid.FromMask(p.TimeMask)
		if err != nil {
			return err
		}

		var result *model.Result
		switch resolveFormat(deps.Config.Format) {
		case render.FormatJSON, render.FormatJSONL:
			result = buildResult(model.KindGrid, "fetch grid", p, len(g.Frames))
		default:
			loc := deps.SiteLocation(q.Location)
			render.Location = loc
			result = buildResult(model.KindFrames, "fetch grid", frameTable(g, time.Now().UnixMilli(), loc), len(g.Frames))
		}
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		result.Stats.CacheHit = f.Hits() > 0
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── fetch all ────────────────────────────────────────────────────────────────

var fetchAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Fetch rooms, attendees and the grid concurrently",
	Long: `Fetch everything a view needs for one day. The requests run concurrently
(bounded by --rate); the first failure cancels the rest. Prints a summary;
combine with --store to fill the local database.`,
	Example: `  rookboom fetch all --date 2026-3-5 --attendee ada --store
  rookboom fetch all --at NY --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, f, q, err := fetchSetup()
		if err != nil {
			return err
		}
		defer deps.Close()

		start := time.Now()
		emails := fetchEmails(deps)

		var (
			rooms     *model.SchedulePayload
			attendees *model.AttendeePayload
			mask      *model.TimeMaskPayload
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			p, err := f.Rooms(ctx, q)
			if err != nil {
				return fmt.Errorf("rooms: %w", err)
			}
			rooms = p
			return nil
		})
		g.Go(func() error {
			p, err := f.TimeMask(ctx, q)
			if err != nil {
				return fmt.Errorf("grid: %w", err)
			}
			mask = p
			return nil
		})
		if len(emails) > 0 {
			g.Go(func() error {
				p, err := f.Attendees(ctx, q, emails)
				if err != nil {
					return fmt.Errorf("attendees: %w", err)
				}
				attendees = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var warnings []string
		if _, err := timegrid.FromMask(mask.TimeMask); err != nil {
			warnings = append(warnings, err.Error())
		}
		t := &model.Table{Columns: []string{"PAYLOAD", "DAY", "ITEMS", "KEY"}}
		day := render.FormatMillis(q.Day)
		t.Rows = append(t.Rows,
			[]string{store.BucketRooms, day, strconv.Itoa(len(rooms.Schedule)), store.QueryKey(q)},
			[]string{store.BucketGrids, day, strconv.Itoa(len(mask.TimeMask.Frames)), store.QueryKey(q)},
		)
		if attendees != nil {
			t.Rows = append(t.Rows, []string{store.BucketAttendees, day, strconv.Itoa(len(attendees.Result)), store.AttendeeKey(q, emails)})
		}

		result := buildResult(model.KindTable, "fetch all", t, len(t.Rows))
		result.Warnings = warnings
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		result.Stats.CacheHit = f.Hits() > 0
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// fetchSetup builds deps, the fetcher and the query shared by every fetch
// subcommand. The caller must close deps.
func fetchSetup() (*app.Deps, *storeFetcher, model.Query, error) {
	deps, err := buildDeps()
	if err != nil {
		return nil, nil, model.Query{}, err
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, nil, model.Query{}, err
	}
	q, err := fetchQuery(deps, tz.Adjuster{})
	if err != nil {
		return nil, nil, model.Query{}, err
	}
	if fetchFlags.Store || fetchFlags.Cached {
		if err := deps.RequireStore(); err != nil {
			return nil, nil, model.Query{}, err
		}
	}
	f := newStoreFetcher(deps.Client, deps.Store, fetchFlags.Cached)
	render.Location = deps.SiteLocation(q.Location)
	return deps, f, q, nil
}

// fetchQuery converts the flags into the query a view on that day sends.
func fetchQuery(deps *app.Deps, adj tz.Adjuster) (model.Query, error) {
	day, err := parseDay(adj, fetchFlags.Date)
	if err != nil {
		return model.Query{}, err
	}
	tf := model.DefaultTimeframe
	if fetchFlags.Timeframe != "" {
		if tf, err = model.ParseTimeframe(fetchFlags.Timeframe); err != nil {
			return model.Query{}, err
		}
	}
	site := deps.Config.Sites.Resolve(fetchFlags.At)
	return model.Query{
		Day:       adj.ToLocationTime(day, deps.Config.Sites.Offset(site)),
		Timeframe: tf,
		Location:  site,
	}, nil
}

// fetchEmails returns the --attendee addresses followed by the principal,
// without duplicates.
func fetchEmails(deps *app.Deps) []string {
	var out []string
	seen := map[string]bool{}
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	for _, a := range fetchFlags.Attendees {
		add(attendeeAddress(deps, a))
	}
	add(deps.Config.Principal)
	return out
}

// storeFetcher fetches through the booking client. With a store it writes
// every payload through; with read set it answers from the store first.
type storeFetcher struct {
	client *booking.Client
	store  *store.Store
	read   bool

	mu   sync.Mutex
	hits int
}

func newStoreFetcher(c *booking.Client, s *store.Store, read bool) *storeFetcher {
	return &storeFetcher{client: c, store: s, read: read && s != nil}
}

// Hits returns how many requests were answered from the store.
func (f *storeFetcher) Hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func (f *storeFetcher) hit() {
	f.mu.Lock()
	f.hits++
	f.mu.Unlock()
}

// persist writes a payload through, logging rather than failing the fetch.
func (f *storeFetcher) persist(bucket, key string, put func() error) {
	if f.store == nil {
		return
	}
	if err := put(); err != nil {
		slog.Warn("storing payload failed", "bucket", bucket, "key", key, "err", err)
	}
}

func (f *storeFetcher) Rooms(ctx context.Context, q model.Query) (*model.SchedulePayload, error) {
	key := store.QueryKey(q)
	if f.read {
		if p, ok, err := f.store.GetRooms(key); err == nil && ok {
			f.hit()
			return p, nil
		}
	}
	p, err := f.client.Rooms(ctx, q)
	if err != nil {
		return nil, err
	}
	f.persist(store.BucketRooms, key, func() error { return f.store.PutRooms(key, p) })
	return p, nil
}

func (f *storeFetcher) Attendees(ctx context.Context, q model.Query, emails []string) (*model.AttendeePayload, error) {
	key := store.AttendeeKey(q, emails)
	if f.read {
		if p, ok, err := f.store.GetAttendees(key); err == nil && ok {
			f.hit()
			return p, nil
		}
	}
	p, err := f.client.Attendees(ctx, q, emails)
	if err != nil {
		return nil, err
	}
	f.persist(store.BucketAttendees, key, func() error { return f.store.PutAttendees(key, p) })
	return p, nil
}

func (f *storeFetcher) Attendee(ctx context.Context, q model.Query, email string) (*model.Schedule, error) {
	key := store.AttendeeKey(q, []string{email})
	if f.read {
		if p, ok, err := f.store.GetAttendees(key); err == nil && ok && len(p.Result) == 1 {
			f.hit()
			return &p.Result[0], nil
		}
	}
	s, err := f.client.Attendee(ctx, q, email)
	if err != nil {
		return nil, err
	}
	f.persist(store.BucketAttendees, key, func() error {
		return f.store.PutAttendees(key, &model.AttendeePayload{Day: q.Day, Result: []model.Schedule{*s}})
	})
	return s, nil
}

func (f *storeFetcher) TimeMask(ctx context.Context, q model.Query) (*model.TimeMaskPayload, error) {
	key := store.QueryKey(q)
	if f.read {
		if p, ok, err := f.store.GetGrid(key); err == nil && ok {
			f.hit()
			return p, nil
		}
	}
	p, err := f.client.TimeMask(ctx, q)
	if err != nil {
		return nil, err
	}
	f.persist(store.BucketGrids, key, func() error { return f.store.PutGrid(key, p) })
	return p, nil
}

// RepInfo depends on the rule as well as the day and is never stored.
func (f *storeFetcher) RepInfo(ctx context.Context, q model.Query) (*model.RepInfo, error) {
	return f.client.RepInfo(ctx, q)
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.AddCommand(fetchRoomsCmd)
	fetchCmd.AddCommand(fetchAttendeesCmd)
	fetchCmd.AddCommand(fetchGridCmd)
	fetchCmd.AddCommand(fetchAllCmd)

	pf := fetchCmd.PersistentFlags()
	pf.StringVar(&fetchFlags.Date, "date", "", "day to fetch as Y-M-D (default: today)")
	pf.StringVar(&fetchFlags.Timeframe, "timeframe", "", "Morning|Day|Night (default: Day)")
	pf.StringVar(&fetchFlags.At, "at", "", "site id (default: catalogue default)")
	pf.StringArrayVar(&fetchFlags.Attendees, "attendee", nil, "attendee alias or address (repeatable)")
	pf.BoolVar(&fetchFlags.Store, "store", false, "persist payloads to the local database")
	pf.BoolVar(&fetchFlags.Cached, "cached", false, "answer from the local database when it has the payload")
}
