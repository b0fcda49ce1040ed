package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/store"
	"github.com/rookboom/rookboom/internal/tz"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local payload store",
	Long: `Commands for the bbolt database that --store fills.

Room and attendee schedules change during the day, so answers served with
--cached age quickly. Prune past days regularly and clear the rooms and
attendees buckets when a booking looks missing.`,
}

// ─── cache stats ──────────────────────────────────────────────────────────────

var cacheStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show payload counts, sizes and stored days per bucket",
	Example: `  rookboom cache stats
  rookboom cache stats --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		stats, err := deps.Store.Stats()
		if err != nil {
			return fmt.Errorf("reading store stats: %w", err)
		}
		render.Location = deps.SiteLocation("")

		if resolveFormat(deps.Config.Format) != render.FormatTable || globalFlags.Out != "" {
			t := &model.Table{Columns: []string{"BUCKET", "ROWS", "BYTES", "OLDEST", "NEWEST"}}
			for _, s := range stats {
				t.Rows = append(t.Rows, []string{
					s.Name, strconv.Itoa(s.Count), strconv.FormatInt(s.Bytes, 10),
					dayLabel(s.Oldest), dayLabel(s.Newest),
				})
			}
			return emit(cmd.OutOrStdout(), deps, buildResult(model.KindTable, "cache stats", t, len(stats)))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", deps.Store.Path())
		var rows int
		printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "PAYLOADS", "SIZE", "DAYS"}, func(add func(...string)) {
			for _, s := range stats {
				rows += s.Count
				span := dayLabel(s.Oldest)
				if s.Newest != s.Oldest {
					span += " → " + dayLabel(s.Newest)
				}
				add(s.Name, strconv.Itoa(s.Count), humanBytes(s.Bytes), span)
			}
		})
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d payloads\n", rows)
		return nil
	},
}

// dayLabel formats a stored day in the default site's clock; 0 is blank.
func dayLabel(day int64) string {
	if day == 0 {
		return ""
	}
	return render.FormatMillis(day)
}

// ─── cache clear ──────────────────────────────────────────────────────────────

var (
	cacheClearAll    bool
	cacheClearBucket string
)

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete payloads from one or all buckets",
	Long: `Delete every payload of one bucket, or of all of them.

The database file keeps its size until 'rookboom cache compact' runs; freed
pages are reused by later writes.`,
	Example: `  rookboom cache clear --all
  rookboom cache clear --bucket rooms
  rookboom cache clear --bucket attendees`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cacheClearAll && cacheClearBucket == "" {
			return fmt.Errorf("specify --all or --bucket <name>\n\nBuckets: %s", strings.Join(store.AllBuckets, ", "))
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		out := cmd.OutOrStdout()
		if cacheClearAll {
			if err := deps.Store.ClearAll(); err != nil {
				return fmt.Errorf("clearing all buckets: %w", err)
			}
			fmt.Fprintf(out, "✓ Cleared %s\n", strings.Join(store.AllBuckets, ", "))
		} else {
			if err := deps.Store.ClearBucket(cacheClearBucket); err != nil {
				return fmt.Errorf("clearing bucket %q: %w", cacheClearBucket, err)
			}
			fmt.Fprintf(out, "✓ Cleared bucket %q\n", cacheClearBucket)
		}
		fmt.Fprintln(out, "  Run 'rookboom cache compact' to shrink the file.")
		return nil
	},
}

// ─── cache prune ──────────────────────────────────────────────────────────────

var cachePruneFlags struct {
	Before string
	At     string
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete payloads for days before a date",
	Long: `Prune removes every stored payload whose day lies before --before
(default: today), comparing days the way fetch computes them for the --at
site. Payloads whose key carries no day are kept.`,
	Example: `  rookboom cache prune
  rookboom cache prune --before 2026-3-1 --at NY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		adj := tz.Adjuster{}
		day, err := parseDay(adj, cachePruneFlags.Before)
		if err != nil {
			return err
		}
		site := deps.Config.Sites.Resolve(cachePruneFlags.At)
		cutoff := adj.ToLocationTime(day, deps.Config.Sites.Offset(site))

		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		n, err := deps.Store.Prune(cutoff)
		if err != nil {
			return err
		}
		render.Location = deps.SiteLocation(site)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d payloads before %s\n", n, render.FormatMillis(cutoff))
		return nil
	},
}

// ─── cache compact ────────────────────────────────────────────────────────────

var cacheCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the database file to reclaim freed disk space",
	Long: `Compact copies the live payloads into a fresh bbolt file and swaps it in
for the old one. bbolt never returns freed pages to the filesystem, so this is
how the file shrinks after 'cache clear' or 'cache prune'.`,
	Example: `  rookboom cache prune && rookboom cache compact`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		// Compact reopens the database itself; the handle stays valid.
		defer deps.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Compacting %s ...\n", deps.Store.Path())
		before, after, err := deps.Store.Compact()
		if err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}

		fmt.Fprintf(out, "✓ %s → %s\n", humanBytes(before), humanBytes(after))
		if saved := before - after; saved > 0 {
			fmt.Fprintf(out, "  Reclaimed %s\n", humanBytes(saved))
		} else {
			fmt.Fprintln(out, "  Nothing to reclaim.")
		}
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheCompactCmd)

	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "clear every bucket")
	cacheClearCmd.Flags().StringVar(&cacheClearBucket, "bucket", "", "clear one bucket: "+strings.Join(store.AllBuckets, "|"))
	cachePruneCmd.Flags().StringVar(&cachePruneFlags.Before, "before", "", "first day to keep as Y-M-D (default: today)")
	cachePruneCmd.Flags().StringVar(&cachePruneFlags.At, "at", "", "site whose midnight starts a day")
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func humanBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
