package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/filter"
	"github.com/rookboom/rookboom/internal/hash"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/pipeline"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/slots"
	"github.com/rookboom/rookboom/internal/state"
)

var filterFlags struct {
	Selections []string
	Fragment   string
	Visible    bool
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Narrow rooms with the catalogue's attribute filters",
	Long: `Filters come from the site catalogue. Each descriptor is a value filter
(exact attribute match), a range filter (numeric buckets such as 5-10) or a
binary filter (attribute present). Within a field any selected value matches;
across fields every field must match.

Input is a /schedule payload, a JSON list of schedules, or JSONL, read from a
file or stdin.`,
}

// ─── filter apply ─────────────────────────────────────────────────────────────

var filterApplyCmd = &cobra.Command{
	Use:   "apply [FILE]",
	Short: "Print the rooms that pass the selected filters",
	Example: `  rookboom fetch rooms --format json > rooms.json
  rookboom filter apply rooms.json --select capacity=5-10 --select video=true
  rookboom fetch rooms --format jsonl | rookboom filter apply --fragment '#filters=floor:%5B%223%22%5D'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		engine, err := deps.Engine()
		if err != nil {
			return err
		}
		sel, err := filterSelection(deps.Codec(time.Now))
		if err != nil {
			return err
		}
		list, err := readSchedules(args)
		if err != nil {
			return err
		}
		slots.PatchAll(list)

		start := time.Now()
		out := engine.Apply(sel, list)
		result := buildResult(model.KindSchedules, "filter apply", out, len(out))
		result.Stats.DurationMs = time.Since(start).Milliseconds()
		if len(out) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no room of %d passes the selected filters", len(list)))
		}
		// Without an explicit format, piped output stays in the pipe format.
		if globalFlags.Format == "" && globalFlags.Out == "" && !pipeline.IsTTY() {
			render.PrintFooter(os.Stderr, result, false)
			return pipeline.WriteJSONL(cmd.OutOrStdout(), out)
		}
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// ─── filter presentation ──────────────────────────────────────────────────────

var filterPresentationCmd = &cobra.Command{
	Use:   "presentation [FILE]",
	Short: "Show the filter groups and which options are active",
	Long: `Presentation lists every option of every filter group. Value groups offer
the distinct attribute values of the input rooms. --visible hides value and
range groups with fewer than two options.`,
	Example: `  rookboom filter presentation rooms.json --select floor=3
  rookboom filter presentation rooms.json --visible --format md`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		engine, err := deps.Engine()
		if err != nil {
			return err
		}
		sel, err := filterSelection(deps.Codec(time.Now))
		if err != nil {
			return err
		}
		list, err := readSchedules(args)
		if err != nil {
			return err
		}

		groups := engine.Presentation(sel, list)
		if filterFlags.Visible {
			groups = filter.Visible(groups)
		}
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindPresentation, "filter presentation", groups, len(groups)))
	},
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// filterSelection merges --fragment filters with --select flags; flags
// replace a field the fragment also sets.
func filterSelection(codec hash.Codec) (filter.Values, error) {
	sel := filter.Values{}
	if filterFlags.Fragment != "" {
		st := state.New(0)
		if err := codec.Decode(filterFlags.Fragment, st, ""); err != nil {
			return nil, fmt.Errorf("invalid --fragment: %w", err)
		}
		for field, vals := range st.Snapshot().Fields {
			sel[field] = vals
		}
	}
	flags, err := parseSelections(filterFlags.Selections)
	if err != nil {
		return nil, err
	}
	for field, vals := range flags {
		sel[field] = vals
	}
	return sel, nil
}

func readSchedules(args []string) ([]model.Schedule, error) {
	in, err := openInput(args)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return pipeline.ReadSchedules(in)
}

func init() {
	rootCmd.AddCommand(filterCmd)
	filterCmd.AddCommand(filterApplyCmd)
	filterCmd.AddCommand(filterPresentationCmd)

	pf := filterCmd.PersistentFlags()
	pf.StringArrayVar(&filterFlags.Selections, "select", nil, "selection field=value (repeatable)")
	pf.StringVar(&filterFlags.Fragment, "fragment", "", "take selections from a view fragment")
	filterPresentationCmd.Flags().BoolVar(&filterFlags.Visible, "visible", false, "hide groups with fewer than two options")
}
