package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rookboom/rookboom/internal/app"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
	"github.com/rookboom/rookboom/internal/tz"
	"github.com/rookboom/rookboom/internal/util"
)

// resolveFormat returns the effective format string, falling back to "table".
func resolveFormat(cfgFormat string) string {
	if globalFlags.Format != "" {
		return globalFlags.Format
	}
	if cfgFormat != "" {
		return cfgFormat
	}
	return render.FormatTable
}

// outputWriter returns the --out file when set, else def. The returned
// close function is always safe to call.
func outputWriter(def io.Writer) (io.Writer, func() error, error) {
	if globalFlags.Out == "" {
		return def, func() error { return nil }, nil
	}
	f, err := os.Create(globalFlags.Out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// emit renders result to --out or w and prints the footer.
func emit(w io.Writer, deps *app.Deps, result *model.Result) error {
	out, closeFn, err := outputWriter(w)
	if err != nil {
		return err
	}
	if err := render.Render(out, result, resolveFormat(deps.Config.Format)); err != nil {
		closeFn()
		return err
	}
	if err := closeFn(); err != nil {
		return err
	}
	render.PrintFooter(os.Stderr, result, deps.Config.Verbose)
	return nil
}

// openInput opens the named file, or stdin when args is empty or "-".
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// parseSelections turns repeated field=value flags into per-field values,
// keeping flag order within a field.
func parseSelections(flags []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, s := range flags {
		field, value, ok := strings.Cut(s, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid selection %q: expected field=value", s)
		}
		out[field] = append(out[field], value)
	}
	return out, nil
}

// attendeeAddress appends the catalogue domain to a bare alias.
func attendeeAddress(deps *app.Deps, alias string) string {
	alias = strings.TrimSpace(alias)
	if alias == "" || strings.Contains(alias, "@") || deps.Config.Sites.Domain == "" {
		return alias
	}
	return alias + "@" + deps.Config.Sites.Domain
}

// parseDay resolves a Y-M-D date (empty = today) to local midnight.
func parseDay(adj tz.Adjuster, date string) (int64, error) {
	if date == "" {
		return adj.Today(), nil
	}
	y, m, d, err := util.ParseDate(date)
	if err != nil {
		return 0, fmt.Errorf("invalid --date %q: %w", date, err)
	}
	return adj.Midnight(y, m, d), nil
}

// printSimpleTable renders a simple table with headers using tablewriter.
// The add callback is called with row values as variadic strings.
func printSimpleTable(w io.Writer, headers []string, fill func(add func(...string))) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)

	fill(func(cols ...string) {
		tw.Append(cols)
	})
	tw.Render()
}

// buildResult wraps data in a Result envelope.
func buildResult(kind, command string, data interface{}, items int) *model.Result {
	return &model.Result{
		Kind:        kind,
		GeneratedAt: time.Now(),
		Command:     command,
		Data:        data,
		Stats:       model.ResultStats{Items: items},
	}
}
