package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/app"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/tz"
)

var recurrenceFlags struct {
	Pattern  string
	Interval int
	Days     []int
	Week     int
	EndAfter int
	Date     string
	At       string
	Remote   bool
}

var recurrenceCmd = &cobra.Command{
	Use:   "recurrence",
	Short: "Work with recurring-meeting rules",
	Long: `A recurrence rule repeats a meeting daily, weekly or monthly starting on
--date and ending --end-after months later (31-day months). Days use 0 for
Sunday. Monthly rules pick the --week'th occurrence of each listed day.`,
}

// ─── recurrence params ────────────────────────────────────────────────────────

var recurrenceParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the rep* query parameters a confirmed rule adds to fetches",
	Example: `  rookboom recurrence params --pattern weekly --days 1,3 --end-after 2
  rookboom recurrence params --pattern monthly --week 2 --days 2 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		r, _, err := recurrenceRule(deps)
		if err != nil {
			return err
		}
		params := recurrence.FormatForQuery(r)
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindParams, "recurrence params", params, len(params)))
	},
}

// ─── recurrence rrule ─────────────────────────────────────────────────────────

var recurrenceRRuleCmd = &cobra.Command{
	Use:   "rrule",
	Short: "Print the rule as an iCalendar RRULE line",
	Example: `  rookboom recurrence rrule --pattern weekly --interval 2 --days 1,3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		r, loc, err := recurrenceRule(deps)
		if err != nil {
			return err
		}
		line, err := recurrence.String(r, loc)
		if err != nil {
			return err
		}
		out, closeFn, err := outputWriter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "RRULE:"+line)
		return closeFn()
	},
}

// ─── recurrence preview ───────────────────────────────────────────────────────

var recurrencePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the first occurrence and a description of the rule",
	Long: `Preview computes the first occurrence locally. With --remote the booking
service's rep-info endpoint is asked instead, which is what a view does before
it confirms a rule.`,
	Example: `  rookboom recurrence preview --pattern weekly --days 2 --date 2026-3-5
  rookboom recurrence preview --pattern monthly --week 1 --days 1 --remote --at NY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		r, loc, err := recurrenceRule(deps)
		if err != nil {
			return err
		}

		var info model.RepInfo
		if recurrenceFlags.Remote {
			if err := deps.Config.Validate(); err != nil {
				return err
			}
			q := model.Query{
				Day:        r.Day,
				Timeframe:  model.DefaultTimeframe,
				Location:   deps.Config.Sites.Resolve(recurrenceFlags.At),
				Recurrence: recurrence.FormatForQuery(r),
			}
			got, err := deps.Client.RepInfo(cmd.Context(), q)
			if err != nil {
				return err
			}
			info = *got
		} else {
			if info, err = recurrence.Preview(r, loc); err != nil {
				return err
			}
		}

		render.Location = loc
		t := &model.Table{Columns: []string{"KEY", "VALUE"}, Rows: [][]string{
			{"first", render.FormatMillis(info.First)},
			{"description", info.Description},
		}}
		if line, err := recurrence.String(r, loc); err == nil {
			t.Rows = append(t.Rows, []string{"rrule", "RRULE:" + line})
		}
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindTable, "recurrence preview", t, 1))
	},
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// recurrenceRule builds an active rule from the flags. Its day is the
// instant the site's wall clock reads midnight on --date.
func recurrenceRule(deps *app.Deps) (recurrence.Rule, *time.Location, error) {
	f := recurrenceFlags
	adj := tz.Adjuster{}
	day, err := parseDay(adj, f.Date)
	if err != nil {
		return recurrence.Rule{}, nil, err
	}
	site := deps.Config.Sites.Resolve(f.At)

	r := recurrence.Default()
	r.Pattern = recurrence.Pattern(f.Pattern)
	r.Interval = f.Interval
	r.Days = f.Days
	r.Week = f.Week
	r.EndAfter = f.EndAfter
	r.Active = true
	r.Day = adj.ToLocationTime(day, deps.Config.Sites.Offset(site))
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return recurrence.Rule{}, nil, err
	}
	return r, deps.SiteLocation(site), nil
}

func init() {
	rootCmd.AddCommand(recurrenceCmd)
	recurrenceCmd.AddCommand(recurrenceParamsCmd)
	recurrenceCmd.AddCommand(recurrenceRRuleCmd)
	recurrenceCmd.AddCommand(recurrencePreviewCmd)

	pf := recurrenceCmd.PersistentFlags()
	pf.StringVar(&recurrenceFlags.Pattern, "pattern", string(recurrence.Weekly), "daily|weekly|monthly")
	pf.IntVar(&recurrenceFlags.Interval, "interval", 1, "repeat every N days/weeks/months")
	pf.IntSliceVar(&recurrenceFlags.Days, "days", nil, "weekdays, 0=Sunday (e.g. 1,3)")
	pf.IntVar(&recurrenceFlags.Week, "week", 1, "week of the month for monthly rules")
	pf.IntVar(&recurrenceFlags.EndAfter, "end-after", 1, "months until the series ends")
	pf.StringVar(&recurrenceFlags.Date, "date", "", "first day as Y-M-D (default: today)")
	pf.StringVar(&recurrenceFlags.At, "at", "", "site id (default: catalogue default)")
	recurrencePreviewCmd.Flags().BoolVar(&recurrenceFlags.Remote, "remote", false, "ask the booking service")
}
