// Package score rates each frame by how many attendees are free in it.
package score

import (
	"sort"

	"github.com/rookboom/rookboom/internal/model"
)

// Score classifies every frame start seen across attendees. Only slots that
// are free and end after now count as available. The result is sorted by
// frame start; no attendees yields an empty list.
func Score(attendees []model.Schedule, now int64) []model.Score {
	total := len(attendees)
	if total == 0 {
		return []model.Score{}
	}

	counts := map[int64]int{}
	for _, a := range attendees {
		for _, ts := range a.Slots {
			n := counts[ts.From]
			if !ts.Busy && ts.To > now {
				n++
			}
			counts[ts.From] = n
		}
	}

	out := make([]model.Score, 0, len(counts))
	for from, n := range counts {
		out = append(out, model.Score{From: from, Match: classify(n, total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func classify(count, total int) model.Match {
	switch {
	case count == total:
		return model.MatchAll
	case 2*count > total:
		return model.MatchSome
	case count == 0:
		return model.MatchNone
	default:
		return model.MatchPoor
	}
}

// Index maps frame start to match for joining scores back onto frames.
func Index(scores []model.Score) map[int64]model.Match {
	out := make(map[int64]model.Match, len(scores))
	for _, s := range scores {
		out[s.From] = s.Match
	}
	return out
}
