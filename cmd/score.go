package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/chart"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/score"
	"github.com/rookboom/rookboom/internal/slots"
)

var scoreFlags struct {
	Now   string
	At    string
	Chart bool
}

var scoreCmd = &cobra.Command{
	Use:   "score [FILE]",
	Short: "Rate each time frame by how many attendees are free",
	Long: `Score reads attendee schedules (a /schedule/users payload, a JSON list or
JSONL) and classifies every frame start:

  all   every attendee is free
  some  more than half are free
  poor  at least one, at most half
  none  nobody is free

Slots that end before --now never count as free.`,
	Example: `  rookboom fetch attendees --attendee ada --attendee grace --format json | rookboom score
  rookboom score attendees.json --now 2026-03-05T09:00:00Z --at NY
  rookboom score attendees.json --chart`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		now := time.Now()
		if scoreFlags.Now != "" {
			if now, err = time.Parse(time.RFC3339, scoreFlags.Now); err != nil {
				return err
			}
		}
		list, err := readSchedules(args)
		if err != nil {
			return err
		}
		slots.PatchAll(list)

		scores := score.Score(list, model.Millis(now))
		if scoreFlags.Chart {
			out, closeFn, err := outputWriter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := chart.Bar(out, scores, chart.BarOptions{}); err != nil {
				closeFn()
				return err
			}
			return closeFn()
		}
		render.Location = deps.SiteLocation(scoreFlags.At)
		result := buildResult(model.KindScores, "score", scores, len(scores))
		if len(list) == 0 {
			result.Warnings = append(result.Warnings, "no attendee schedules in input")
		}
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringVar(&scoreFlags.Now, "now", "", "reference time, RFC 3339 (default: now)")
	scoreCmd.Flags().StringVar(&scoreFlags.At, "at", "", "site whose clock labels the frames")
	scoreCmd.Flags().BoolVar(&scoreFlags.Chart, "chart", false, "print a bar chart of frames per match instead")
}
