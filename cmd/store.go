package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/app"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/slots"
	"github.com/rookboom/rookboom/internal/store"
	"github.com/rookboom/rookboom/internal/timegrid"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect payloads saved in the local database",
	Long: `Commands for inspecting what has been saved in the local database.

Use 'rookboom fetch all --store' or 'rookboom view --store' to save payloads.
Use 'rookboom cache stats' for bucket-level storage stats.`,
}

// ─── store list ───────────────────────────────────────────────────────────────

var storeListBucket string

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored payloads",
	Example: `  rookboom store list
  rookboom store list --bucket rooms --format csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		entries, err := deps.Store.List(storeListBucket)
		if err != nil {
			return fmt.Errorf("reading store: %w", err)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No payloads in local database.")
			fmt.Fprintln(cmd.OutOrStdout(), "  Use: rookboom fetch all --store")
			return nil
		}

		format := resolveFormat(deps.Config.Format)
		if format == render.FormatTable && globalFlags.Out == "" {
			printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "KEY", "FETCHED AT", "SIZE"}, func(add func(...string)) {
				for _, e := range entries {
					add(e.Bucket, e.Key, e.FetchedAt.Local().Format("2006-01-02 15:04"), humanBytes(int64(e.Bytes)))
				}
			})
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d payloads  •  %s\n", len(entries), deps.Store.Path())
			return nil
		}

		t := &model.Table{Columns: []string{"BUCKET", "KEY", "FETCHED AT", "BYTES"}}
		for _, e := range entries {
			t.Rows = append(t.Rows, []string{e.Bucket, e.Key, e.FetchedAt.Format(time.RFC3339), strconv.Itoa(e.Bytes)})
		}
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindTable, "store list", t, len(entries)))
	},
}

// ─── store get ────────────────────────────────────────────────────────────────

var storeGetCmd = &cobra.Command{
	Use:   "get <BUCKET> <KEY>",
	Short: "Read one stored payload",
	Long: `Read a payload by bucket and key as printed by 'store list'. Rooms and
attendees print as schedules; grids print their frames.`,
	Example: `  rookboom store get rooms 'day:1772697600000|tf:Day|loc:SF'
  rookboom store get grids 'day:1772697600000|tf:Day|loc:SF' --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, key := args[0], args[1]

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		var (
			result *model.Result
			ok     bool
		)
		command := "store get " + bucket
		render.Location = deps.SiteLocation(keySite(key))
		switch bucket {
		case store.BucketRooms:
			var p *model.SchedulePayload
			if p, ok, err = deps.Store.GetRooms(key); err == nil && ok {
				slots.PatchAll(p.Schedule)
				result = buildResult(model.KindSchedules, command, p.Schedule, len(p.Schedule))
			}
		case store.BucketAttendees:
			var p *model.AttendeePayload
			if p, ok, err = deps.Store.GetAttendees(key); err == nil && ok {
				slots.PatchAll(p.Result)
				result = buildResult(model.KindSchedules, command, p.Result, len(p.Result))
			}
		case store.BucketGrids:
			var p *model.TimeMaskPayload
			if p, ok, err = deps.Store.GetGrid(key); err == nil && ok {
				result, err = gridResult(deps, command, key, p)
			}
		default:
			return fmt.Errorf("unknown bucket %q\n\nBuckets: %s", bucket, strings.Join(store.AllBuckets, ", "))
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", bucket, err)
		}
		if !ok {
			return fmt.Errorf("no payload stored under %s/%s\n\n  Use: rookboom store list --bucket %s", bucket, key, bucket)
		}
		result.Stats.CacheHit = true
		return emit(cmd.OutOrStdout(), deps, result)
	},
}

// gridResult keeps the payload for JSON formats and lists frames otherwise.
// Frames are labelled in the site named by the key's loc: part.
func gridResult(deps *app.Deps, command, key string, p *model.TimeMaskPayload) (*model.Result, error) {
	g, err := timegrid.FromMask(p.TimeMask)
	if err != nil {
		return nil, err
	}
	switch resolveFormat(deps.Config.Format) {
	case render.FormatJSON, render.FormatJSONL:
		return buildResult(model.KindGrid, command, p, len(g.Frames)), nil
	}
	loc := deps.SiteLocation(keySite(key))
	return buildResult(model.KindFrames, command, frameTable(g, time.Now().UnixMilli(), loc), len(g.Frames)), nil
}

// keySite returns the loc: part of a store key.
func keySite(key string) string {
	for _, part := range strings.Split(key, "|") {
		if site, ok := strings.CutPrefix(part, "loc:"); ok {
			return site
		}
	}
	return ""
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeGetCmd)

	storeListCmd.Flags().StringVar(&storeListBucket, "bucket", "", "only list one bucket: rooms|attendees|grids")
}
