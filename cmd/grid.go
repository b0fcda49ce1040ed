package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/pipeline"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/timegrid"
)

var gridFlags struct {
	At  string
	Now string
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Inspect the time grid of a fetched day",
}

var gridShowCmd = &cobra.Command{
	Use:   "show [FILE]",
	Short: "List the frames of a time mask in a site's wall clock",
	Long: `Show validates a /schedule/timemask payload (or a bare {"frames","interval"}
mask) and lists each frame. HOUR marks frames on the hour; NOW marks the hour
frame within half an hour of --now, with the position of now inside it.`,
	Example: `  rookboom fetch grid --date 2026-3-5 --format json | rookboom grid show --at NY
  rookboom grid show mask.json --now 2026-03-05T14:20:00Z`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		now := time.Now()
		if gridFlags.Now != "" {
			if now, err = time.Parse(time.RFC3339, gridFlags.Now); err != nil {
				return err
			}
		}

		in, err := openInput(args)
		if err != nil {
			return err
		}
		defer in.Close()
		mask, err := pipeline.ReadTimeMask(in)
		if err != nil {
			return err
		}
		g, err := timegrid.FromMask(mask)
		if err != nil {
			return err
		}

		loc := deps.SiteLocation(gridFlags.At)
		render.Location = loc
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindFrames, "grid show", frameTable(g, model.Millis(now), loc), len(g.Frames)))
	},
}

func frameTable(g *timegrid.Grid, now int64, loc *time.Location) *model.Table {
	hours := map[int64]bool{}
	for _, f := range g.HourBoundaries(loc) {
		hours[f] = true
	}
	nowFrame, pos, hasNow := g.NowFrame(now, loc)

	t := &model.Table{Columns: []string{"FRAME", "TIME", "HOUR", "NOW"}}
	for i, f := range g.Frames {
		hour, mark := "", ""
		if hours[f] {
			hour = "yes"
		}
		if hasNow && f == nowFrame {
			mark = strconv.FormatFloat(pos, 'f', 2, 64)
		}
		t.Rows = append(t.Rows, []string{strconv.Itoa(i), render.FormatMillis(f), hour, mark})
	}
	return t
}

func init() {
	rootCmd.AddCommand(gridCmd)
	gridCmd.AddCommand(gridShowCmd)
	gridShowCmd.Flags().StringVar(&gridFlags.At, "at", "", "site whose clock labels the frames")
	gridShowCmd.Flags().StringVar(&gridFlags.Now, "now", "", "reference time, RFC 3339 (default: now)")
}
