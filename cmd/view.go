package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/chart"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/session"
	"github.com/rookboom/rookboom/internal/state"
)

var viewFlags struct {
	Show       string
	Selections []string
	Recurrence string
	Store      bool
	Cached     bool
}

var viewCmd = &cobra.Command{
	Use:   "view [FRAGMENT]",
	Short: "Open a view from a fragment and print what it shows",
	Long: `View runs a full session: it decodes the fragment, adds the principal as an
attendee, fetches rooms, the time grid and attendee schedules, filters the
rooms and scores every frame. It then prints one part of the view:

  rooms      filtered rooms plus the "Anywhere" placeholder (default)
  attendees  attendee schedules
  scores     frame scores
  filters    filter groups with their active options
  state      the decoded state and the canonical fragment
  board      a text timeline of attendees and rooms with the match row

--select changes filters after loading and --recurrence confirms a rule with
the service before printing, the same way a user would in a live view.
--recurrence none drops a rule carried by the fragment and returns to today.`,
	Example: `  rookboom view '#date=2026-3-5&attendees=ada,grace&at=NY'
  rookboom view '#filters=video:%5B%22true%22%5D' --show filters
  rookboom view --select capacity=5-10 --show state
  rookboom view '#attendees=ada' --recurrence '{"pattern":"weekly","days":[2]}' --show state`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.Config.Validate(); err != nil {
			return err
		}
		engine, err := deps.Engine()
		if err != nil {
			return err
		}
		switch viewFlags.Show {
		case "", "rooms", "attendees", "scores", "filters", "state", "board":
		default:
			return fmt.Errorf("unknown --show %q: expected rooms|attendees|scores|filters|state|board", viewFlags.Show)
		}
		selections, err := parseSelections(viewFlags.Selections)
		if err != nil {
			return err
		}
		var rule *recurrence.Rule
		resetRule := viewFlags.Recurrence == "none"
		if viewFlags.Recurrence != "" && !resetRule {
			var r recurrence.Rule
			if err := json.Unmarshal([]byte(viewFlags.Recurrence), &r); err != nil {
				return fmt.Errorf("invalid --recurrence: %w", err)
			}
			r = r.Normalize()
			rule = &r
		}
		if viewFlags.Store || viewFlags.Cached {
			if err := deps.RequireStore(); err != nil {
				return err
			}
		}
		defer deps.Close()
		fragment := ""
		if len(args) > 0 {
			fragment = args[0]
		}

		start := time.Now()
		f := newStoreFetcher(deps.Client, deps.Store, viewFlags.Cached)
		responses := make(chan fetchResponse, 32)
		s := session.New(session.Config{
			Fetcher: f,
			Engine:  engine,
			Codec:   deps.Codec(time.Now),
			Offset:  deps.Config.Sites.Offset,
			OnResponse: func(kind string, err error) {
				select {
				case responses <- fetchResponse{kind: kind, err: err}:
				default:
				}
			},
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*deps.Config.Timeout)
		defer cancel()
		go s.Run(ctx)

		if err := s.Load(ctx, fragment, deps.Config.Principal); err != nil {
			return err
		}
		warnings, err := awaitCycle(ctx, s, responses)
		if err != nil {
			return err
		}

		if len(selections) > 0 {
			if err := s.Update(ctx, func(st *state.Store) {
				for field, vals := range selections {
					st.SetField(field, vals)
				}
			}); err != nil {
				return err
			}
		}
		switch {
		case resetRule:
			before, err := s.Fragment(ctx)
			if err != nil {
				return err
			}
			if err := s.ResetRecurrence(ctx); err != nil {
				return err
			}
			after, err := s.Fragment(ctx)
			if err != nil {
				return err
			}
			// An unchanged fragment means the view was already on today
			// without a rule, so nothing is refetched.
			if after != before {
				more, err := awaitCycle(ctx, s, responses)
				if err != nil {
					return err
				}
				warnings = append(warnings, more...)
			}
		case rule != nil:
			if err := s.ApplyRecurrence(ctx, *rule); err != nil {
				return err
			}
			more, err := awaitCycle(ctx, s, responses)
			if err != nil {
				return err
			}
			warnings = append(warnings, more...)
		}

		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		loc := deps.SiteLocation(v.Values.Location)
		render.Location = loc

		if viewFlags.Show == "board" {
			if v.Grid == nil {
				return fmt.Errorf("no time grid: %s", strings.Join(warnings, "; "))
			}
			out, closeFn, err := outputWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rows := append(v.Attendees, v.Rooms...)
			if err := chart.Board(out, v.Grid, rows, v.Scores, chart.BoardOptions{Location: loc, Now: time.Now().UnixMilli()}); err != nil {
				closeFn()
				return err
			}
			if err := closeFn(); err != nil {
				return err
			}
			render.PrintFooter(os.Stderr, &model.Result{Warnings: warnings}, false)
			return nil
		}

		var result *model.Result
		switch viewFlags.Show {
		case "", "rooms":
			result = buildResult(model.KindSchedules, "view", v.Rooms, len(v.Rooms))
		case "attendees":
			result = buildResult(model.KindSchedules, "view", v.Attendees, len(v.Attendees))
		case "scores":
			result = buildResult(model.KindScores, "view", v.Scores, len(v.Scores))
		case "filters":
			result = buildResult(model.KindPresentation, "view", v.Filters, len(v.Filters))
		case "state":
			t := stateTable(v.Values, engine.Fields(), v.Fragment, loc)
			t.Rows = append(t.Rows,
				[]string{"rooms", strconv.Itoa(len(v.Rooms))},
				[]string{"attendee schedules", strconv.Itoa(len(v.Attendees))},
			)
			if v.Grid != nil {
				t.Rows = append(t.Rows,
					[]string{"frames", strconv.Itoa(len(v.Grid.Frames))},
					[]string{"board width", strconv.Itoa(v.Grid.Width()) + "px"},
				)
			}
			result = buildResult(model.KindState, "view", t, 1)
		}
		result.Warnings = warnings
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		result.Stats.CacheHit = f.Hits() > 0
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

type fetchResponse struct {
	kind string
	err  error
}

// awaitCycle waits until rooms, the grid and (when the view has attendees)
// the attendee schedules of the current fetch cycle have been handled.
// Failed fetches become warnings; stale responses are skipped.
func awaitCycle(ctx context.Context, s *session.Session, responses <-chan fetchResponse) ([]string, error) {
	v, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	need := map[string]bool{session.KindRooms: true, session.KindGrid: true}
	if len(v.Values.Attendees) > 0 {
		need[session.KindAttendees] = true
	}

	var warnings []string
	for len(need) > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for the booking service: %w", ctx.Err())
		case r := <-responses:
			if errors.Is(r.err, session.ErrStale) || !need[r.kind] {
				continue
			}
			delete(need, r.kind)
			if r.err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", r.kind, r.err))
			}
		}
	}
	return warnings, nil
}

func init() {
	rootCmd.AddCommand(viewCmd)
	f := viewCmd.Flags()
	f.StringVar(&viewFlags.Show, "show", "rooms", "rooms|attendees|scores|filters|state|board")
	f.StringArrayVar(&viewFlags.Selections, "select", nil, "filter selection field=value applied after loading (repeatable)")
	f.StringVar(&viewFlags.Recurrence, "recurrence", "", "recurrence rule as JSON, confirmed with the service; none resets it")
	f.BoolVar(&viewFlags.Store, "store", false, "persist fetched payloads to the local database")
	f.BoolVar(&viewFlags.Cached, "cached", false, "answer from the local database when it has the payload")
}
