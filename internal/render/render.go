// Package render converts Result values into human-readable or machine-parseable
// output. Each format is a separate function; the top-level Render dispatcher
// selects based on the format string.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rookboom/rookboom/internal/filter"
	"github.com/rookboom/rookboom/internal/model"
)

// Format constants matching --format flag values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatMD    = "md"
)

// Location is the zone timestamps are displayed in. Commands set it to the
// selected site's zone before rendering.
var Location = time.Local

// Render writes result to w in the specified format.
func Render(w io.Writer, result *model.Result, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatJSONL:
		return renderJSONL(w, result)
	case FormatCSV:
		return renderDelimited(w, result, ',')
	case FormatTSV:
		return renderDelimited(w, result, '\t')
	case FormatMD:
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

// ─── JSON ─────────────────────────────────────────────────────────────────────

func renderJSON(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ─── JSONL ────────────────────────────────────────────────────────────────────

func renderJSONL(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	var items []interface{}
	switch data := result.Data.(type) {
	case []model.Schedule:
		for _, s := range data {
			items = append(items, s)
		}
	case []model.Score:
		for _, s := range data {
			items = append(items, s)
		}
	case []filter.Presentation:
		for _, p := range data {
			items = append(items, p)
		}
	case *model.Table:
		for _, r := range data.Records() {
			items = append(items, r)
		}
	default:
		return enc.Encode(result.Data)
	}
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}

// ─── Tabulation ───────────────────────────────────────────────────────────────

// tabulate flattens the result into rows. ok is false for kinds that only
// have a JSON form.
func tabulate(result *model.Result) (*model.Table, bool, error) {
	switch result.Kind {
	case model.KindSchedules:
		list, ok := result.Data.([]model.Schedule)
		if !ok {
			return nil, false, fmt.Errorf("unexpected data type for %s", result.Kind)
		}
		return scheduleTable(list), true, nil
	case model.KindScores:
		scores, ok := result.Data.([]model.Score)
		if !ok {
			return nil, false, fmt.Errorf("unexpected data type for %s", result.Kind)
		}
		return scoreTable(scores), true, nil
	case model.KindPresentation:
		groups, ok := result.Data.([]filter.Presentation)
		if !ok {
			return nil, false, fmt.Errorf("unexpected data type for %s", result.Kind)
		}
		return presentationTable(groups), true, nil
	case model.KindParams:
		params, ok := result.Data.(url.Values)
		if !ok {
			return nil, false, fmt.Errorf("unexpected data type for %s", result.Kind)
		}
		return paramsTable(params), true, nil
	case model.KindFrames, model.KindState, model.KindTable:
		t, ok := result.Data.(*model.Table)
		if !ok {
			return nil, false, fmt.Errorf("unexpected data type for %s", result.Kind)
		}
		return t, true, nil
	}
	return nil, false, nil
}

func scheduleTable(list []model.Schedule) *model.Table {
	t := &model.Table{Columns: []string{"NAME", "EMAIL", "SLOTS", "BUSY", "MAX FREE", "ATTRIBUTES"}}
	for _, s := range list {
		busy := 0
		for _, sl := range s.Slots {
			if sl.Busy {
				busy++
			}
		}
		var attrs []string
		if s.Room != nil {
			for k, v := range s.Room.Attributes {
				attrs = append(attrs, k+"="+v)
			}
			sort.Strings(attrs)
		}
		t.Rows = append(t.Rows, []string{
			s.Name(),
			s.Key(),
			strconv.Itoa(len(s.Slots)),
			strconv.Itoa(busy),
			strconv.Itoa(s.MaxEmpty),
			strings.Join(attrs, " "),
		})
	}
	return t
}

func scoreTable(scores []model.Score) *model.Table {
	t := &model.Table{Columns: []string{"FROM", "TIME", "MATCH"}}
	for _, s := range scores {
		t.Rows = append(t.Rows, []string{
			strconv.FormatInt(s.From, 10),
			FormatMillis(s.From),
			string(s.Match),
		})
	}
	return t
}

func presentationTable(groups []filter.Presentation) *model.Table {
	t := &model.Table{Columns: []string{"GROUP", "KIND", "FIELD", "OPTION", "ACTIVE"}}
	for _, g := range groups {
		if g.Any {
			t.Rows = append(t.Rows, []string{g.ID, g.Kind, g.Field, "(any)", "yes"})
		}
		for _, o := range g.Values {
			active := ""
			if o.Active {
				active = "yes"
			}
			t.Rows = append(t.Rows, []string{g.ID, g.Kind, o.Field, o.Label, active})
		}
	}
	return t
}

func paramsTable(params url.Values) *model.Table {
	t := &model.Table{Columns: []string{"KEY", "VALUE"}}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.Rows = append(t.Rows, []string{k, strings.Join(params[k], ",")})
	}
	return t
}

// ─── Table ────────────────────────────────────────────────────────────────────

func renderTable(w io.Writer, result *model.Result) error {
	t, ok, err := tabulate(result)
	if err != nil {
		return err
	}
	if !ok {
		return renderJSON(w, result)
	}
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(t.Columns)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(t.Rows)
	tw.Render()
	return nil
}

// ─── CSV / TSV ────────────────────────────────────────────────────────────────

func renderDelimited(w io.Writer, result *model.Result, sep rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep

	t, ok, err := tabulate(result)
	if err != nil {
		return err
	}
	if ok {
		header := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			header[i] = strings.ReplaceAll(strings.ToLower(c), " ", "_")
		}
		_ = cw.Write(header)
		for _, row := range t.Rows {
			_ = cw.Write(row)
		}
	} else {
		// Fallback: serialize as JSON on a single line
		b, _ := json.Marshal(result.Data)
		_ = cw.Write([]string{string(b)})
	}

	cw.Flush()
	return cw.Error()
}

// ─── Markdown ─────────────────────────────────────────────────────────────────

func renderMarkdown(w io.Writer, result *model.Result) error {
	t, ok, err := tabulate(result)
	if err != nil {
		return err
	}
	if !ok {
		return renderJSON(w, result)
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(t.Columns, " | "))
	seps := make([]string, len(t.Columns))
	for i := range seps {
		seps[i] = "----"
	}
	fmt.Fprintf(w, "|%s|\n", strings.Join(seps, "|"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = mdEscape(c)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	return nil
}

// ─── Warnings / Stats Footer ─────────────────────────────────────────────────

// PrintFooter writes warnings and stats to w when verbose mode is on.
func PrintFooter(w io.Writer, result *model.Result, verbose bool) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠  %s\n", warn)
	}
	if verbose {
		src := "live"
		if result.Stats.CacheHit {
			src = "store"
		}
		fmt.Fprintf(w, "\n[%s • %d items • %dms • %s]\n",
			result.GeneratedAt.Format(time.RFC3339),
			result.Stats.Items,
			result.Stats.DurationMs,
			src,
		)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// FormatMillis formats an epoch-millisecond instant in Location.
func FormatMillis(ms int64) string {
	return model.Time(ms, Location).Format("2006-01-02 15:04")
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
