// Package chart renders availability as plain terminal text.
// Two renderers are available:
//
//   - Board: one row per room or attendee, one cell per frame, with an hour
//     ruler, a now marker and a score row
//   - Bar: horizontal bars counting frames per match category
package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/timegrid"
)

// Cell glyphs.
const (
	glyphFree  = '·'
	glyphBusy  = '█'
	glyphEmpty = ' '
	glyphNow   = '▼'
)

var matchGlyph = map[model.Match]rune{
	model.MatchAll:  '█',
	model.MatchSome: '▓',
	model.MatchPoor: '░',
	model.MatchNone: '·',
}

// maxNameWidth caps the label column.
const maxNameWidth = 24

// ─── Board ───────────────────────────────────────────────────────────────────

// BoardOptions controls board rendering.
type BoardOptions struct {
	// Width is the total character width available. If 0, auto-detects from
	// $COLUMNS, falls back to 80.
	Width int
	// Location labels the hour ruler. Nil means UTC.
	Location *time.Location
	// Now places the now marker; 0 omits it.
	Now int64
}

// Board renders rows against the frames of g. When there are more frames
// than columns, adjacent frames share a cell, which is busy if any of its
// slots is busy. A non-empty scores list adds a "match" row.
//
// Output example:
//
//	         09    10    11
//	             ▼
//	Aspen    ··████······
//	Birch    ············
//	match    ▓▓░░████▓▓▓▓
func Board(w io.Writer, g *timegrid.Grid, rows []model.Schedule, scores []model.Score, opts BoardOptions) error {
	if g == nil || len(g.Frames) == 0 {
		return fmt.Errorf("chart board: no frames to render")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	totalWidth := opts.Width
	if totalWidth <= 0 {
		totalWidth = termWidth()
	}

	nameWidth := len("match")
	for _, r := range rows {
		nameWidth = max(nameWidth, len([]rune(label(r))))
	}
	area := totalWidth - nameWidth - 2
	if area < 4 {
		area = 4
	}
	step := int(math.Ceil(float64(len(g.Frames)) / float64(area)))
	cells := (len(g.Frames) + step - 1) / step
	pad := strings.Repeat(" ", nameWidth+2)

	// Hour ruler
	ruler := []rune(strings.Repeat(" ", cells+2))
	for _, f := range g.HourBoundaries(loc) {
		c := cellOf(g, f, step)
		h := []rune(fmt.Sprintf("%02d", model.Time(f, loc).Hour()))
		if ruler[c] == ' ' && ruler[c+1] == ' ' {
			copy(ruler[c:], h)
		}
	}
	fmt.Fprintf(w, "%s%s\n", pad, strings.TrimRight(string(ruler), " "))

	if opts.Now != 0 {
		if f, _, ok := g.NowFrame(opts.Now, loc); ok {
			fmt.Fprintf(w, "%s%s%c\n", pad, strings.Repeat(" ", cellOf(g, f, step)), glyphNow)
		}
	}

	for _, r := range rows {
		fmt.Fprintf(w, "%-*s  %s\n", nameWidth, label(r), scheduleCells(g, r, step, cells))
	}
	if len(scores) > 0 {
		fmt.Fprintf(w, "%-*s  %s\n", nameWidth, "match", scoreCells(g, scores, step, cells))
	}
	return nil
}

func label(s model.Schedule) string {
	name := []rune(s.Name())
	if len(name) > maxNameWidth {
		return string(name[:maxNameWidth-1]) + "…"
	}
	return string(name)
}

func cellOf(g *timegrid.Grid, frame int64, step int) int {
	return int((frame-g.Frames[0])/g.Interval) / step
}

func scheduleCells(g *timegrid.Grid, s model.Schedule, step, cells int) string {
	out := []rune(strings.Repeat(string(glyphEmpty), cells))
	for _, ts := range s.Slots {
		if ts.From < g.Frames[0] || ts.From > g.Frames[len(g.Frames)-1] {
			continue
		}
		c := cellOf(g, ts.From, step)
		switch {
		case ts.Busy || ts.EventID != 0:
			out[c] = glyphBusy
		case out[c] == glyphEmpty:
			out[c] = glyphFree
		}
	}
	return string(out)
}

// scoreCells shows the worst match within each cell.
func scoreCells(g *timegrid.Grid, scores []model.Score, step, cells int) string {
	rank := map[model.Match]int{model.MatchAll: 0, model.MatchSome: 1, model.MatchPoor: 2, model.MatchNone: 3}
	worst := make([]int, cells)
	for i := range worst {
		worst[i] = -1
	}
	for _, s := range scores {
		if s.From < g.Frames[0] || s.From > g.Frames[len(g.Frames)-1] {
			continue
		}
		c := cellOf(g, s.From, step)
		worst[c] = max(worst[c], rank[s.Match])
	}
	byRank := []model.Match{model.MatchAll, model.MatchSome, model.MatchPoor, model.MatchNone}
	out := make([]rune, cells)
	for i, r := range worst {
		if r < 0 {
			out[i] = glyphEmpty
			continue
		}
		out[i] = matchGlyph[byRank[r]]
	}
	return string(out)
}

// ─── Bar ─────────────────────────────────────────────────────────────────────

// BarOptions controls horizontal bar chart rendering.
type BarOptions struct {
	// Width is the total character width available for the chart.
	// If 0, auto-detects from $COLUMNS, falls back to 80.
	Width int
}

// Bar renders one bar per match category, sized by how many frames have
// that match.
//
// Output example:
//
//	all   12  ████████████
//	some   4  ████
//	poor   0
//	none   2  ██
func Bar(w io.Writer, scores []model.Score, opts BarOptions) error {
	if len(scores) == 0 {
		return fmt.Errorf("chart bar: no scores to render")
	}
	totalWidth := opts.Width
	if totalWidth <= 0 {
		totalWidth = termWidth()
	}

	order := []model.Match{model.MatchAll, model.MatchSome, model.MatchPoor, model.MatchNone}
	counts := map[model.Match]int{}
	maxCount := 0
	for _, s := range scores {
		counts[s.Match]++
		maxCount = max(maxCount, counts[s.Match])
	}
	valWidth := len(strconv.Itoa(maxCount))
	barAreaWidth := totalWidth - 4 - valWidth - 4
	if barAreaWidth < 4 {
		barAreaWidth = 4
	}

	for _, m := range order {
		n := counts[m]
		barLen := int(math.Round(float64(n) / float64(maxCount) * float64(barAreaWidth)))
		if n > 0 && barLen < 1 {
			barLen = 1
		}
		line := fmt.Sprintf("%-4s  %*d  %s", m, valWidth, n, strings.Repeat("█", barLen))
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	return nil
}

// termWidth returns the terminal width from $COLUMNS, defaulting to 80.
func termWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 20 {
			return n
		}
	}
	return 80
}
