package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/state"
	"github.com/rookboom/rookboom/internal/util"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Encode and decode view fragments",
	Long: `A view fragment is the shareable part of a URL after '#'. It records the
date, attendees, filter selections, site, recurrence and timeframe:

  #date=2026-3-5&attendees=ada,grace&filters=capacity:%5B%225-10%22%5D&at=NY

Attendee addresses drop the configured domain; filter values are JSON lists
in URI component encoding.`,
}

// ─── hash decode ──────────────────────────────────────────────────────────────

var hashDecodeCmd = &cobra.Command{
	Use:   "decode <FRAGMENT>",
	Short: "Show the state a fragment describes",
	Long: `Decode a fragment the way a freshly opened view would: segments that fail
to parse keep their defaults and are reported as warnings, a date in the past
becomes today, and the principal is always added as an attendee.`,
	Example: `  rookboom hash decode '#date=2026-3-5&attendees=ada&at=NY'
  rookboom hash decode 'date=2026-3-5&filters=video:%5B%22true%22%5D' --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		engine, err := deps.Engine()
		if err != nil {
			return err
		}
		codec := deps.Codec(time.Now)

		st := state.New(codec.TZ.Today())
		decodeErr := codec.Decode(args[0], st, deps.Config.Principal)

		v := st.Snapshot()
		fragment := codec.Encode(v, engine.Fields())
		result := buildResult(model.KindState, "hash decode", stateTable(v, engine.Fields(), fragment, deps.SiteLocation(v.Location)), 1)
		result.Warnings = errorLines(decodeErr)
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── hash encode ──────────────────────────────────────────────────────────────

var hashEncodeFlags struct {
	Date       string
	Attendees  []string
	Selections []string
	At         string
	Timeframe  string
	Recurrence string
}

var hashEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build a fragment from explicit selections",
	Example: `  rookboom hash encode --date 2026-3-5 --attendee ada --attendee grace@example.com
  rookboom hash encode --select capacity=5-10 --select video=true --at NY --timeframe Morning
  rookboom hash encode --recurrence '{"pattern":"weekly","interval":1,"days":[2],"endAfter":1,"week":1,"active":true,"day":1772697600000,"firstDay":1772784000000}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		engine, err := deps.Engine()
		if err != nil {
			return err
		}
		codec := deps.Codec(time.Now)
		f := hashEncodeFlags

		day, err := parseDay(codec.TZ, f.Date)
		if err != nil {
			return err
		}
		selections, err := parseSelections(f.Selections)
		if err != nil {
			return err
		}
		tf := model.DefaultTimeframe
		if f.Timeframe != "" {
			if tf, err = model.ParseTimeframe(f.Timeframe); err != nil {
				return err
			}
		}
		var rule recurrence.Rule
		if f.Recurrence != "" {
			if err := json.Unmarshal([]byte(f.Recurrence), &rule); err != nil {
				return fmt.Errorf("invalid --recurrence: %w", err)
			}
		}

		st := state.New(day)
		st.Batch(func(st *state.Store) {
			st.SetTimeframe(tf)
			if f.At != "" {
				st.SetLocation(deps.Config.Sites.Resolve(f.At))
			}
			addrs := make([]string, 0, len(f.Attendees))
			for _, a := range f.Attendees {
				addrs = append(addrs, attendeeAddress(deps, a))
			}
			st.SetAttendees(addrs)
			for field, vals := range selections {
				st.SetField(field, vals)
			}
			if f.Recurrence != "" {
				st.SetRecurrence(rule)
			}
		})

		fragment := codec.Encode(st.Snapshot(), engine.Fields())
		if resolveFormat(deps.Config.Format) != render.FormatTable {
			v := st.Snapshot()
			return emit(cmd.OutOrStdout(), deps,
				buildResult(model.KindState, "hash encode", stateTable(v, engine.Fields(), fragment, deps.SiteLocation(v.Location)), 1))
		}
		out, closeFn, err := outputWriter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "#"+fragment)
		return closeFn()
	},
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// stateTable lists the state as key/value rows; filter fields follow engine
// order, then any unknown fields alphabetically.
func stateTable(v state.Values, fields []string, fragment string, loc *time.Location) *model.Table {
	t := &model.Table{Columns: []string{"KEY", "VALUE"}}
	add := func(k, val string) { t.Rows = append(t.Rows, []string{k, val}) }

	add("fragment", "#"+fragment)
	add("date", util.FormatDate(model.Time(v.Day, time.Local)))
	add("timeframe", string(v.Timeframe))
	add("at", v.Location)
	add("attendees", strings.Join(v.Attendees, ","))

	rec := ""
	if v.Recurrence.Active {
		rec = recurrence.Describe(v.Recurrence, loc)
		if !v.Recurrence.Confirmed() {
			rec += " (unconfirmed)"
		}
	}
	add("recurrence", rec)

	seen := map[string]bool{}
	for _, f := range fields {
		seen[f] = true
		if vals := v.Fields[f]; len(vals) > 0 {
			add(state.FieldKey(f), strings.Join(vals, ","))
		}
	}
	var rest []string
	for f := range v.Fields {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	for _, f := range rest {
		add(state.FieldKey(f), strings.Join(v.Fields[f], ",")+" (not encoded)")
	}
	return t
}

// errorLines flattens a joined or multi error into one line per cause.
func errorLines(err error) []string {
	if err == nil {
		return nil
	}
	var multi interface{ Unwrap() []error }
	if errors.As(err, &multi) {
		var out []string
		for _, e := range multi.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func init() {
	rootCmd.AddCommand(hashCmd)
	hashCmd.AddCommand(hashDecodeCmd)
	hashCmd.AddCommand(hashEncodeCmd)

	f := hashEncodeCmd.Flags()
	f.StringVar(&hashEncodeFlags.Date, "date", "", "meeting date as Y-M-D (default: today)")
	f.StringArrayVar(&hashEncodeFlags.Attendees, "attendee", nil, "attendee alias or address (repeatable)")
	f.StringArrayVar(&hashEncodeFlags.Selections, "select", nil, "filter selection field=value (repeatable)")
	f.StringVar(&hashEncodeFlags.At, "at", "", "site id")
	f.StringVar(&hashEncodeFlags.Timeframe, "timeframe", "", "Morning|Day|Night")
	f.StringVar(&hashEncodeFlags.Recurrence, "recurrence", "", "recurrence rule as JSON")
}
