// Package slots compresses a subject's time slots into display runs.
//
// A run is a maximal sequence of adjacent slots sharing one event id.
// Busy runs annotate their first slot with FirstFrame and Length; free runs
// (event id 0) only feed the schedule's MaxEmpty.
package slots

import "github.com/rookboom/rookboom/internal/model"

// Run is one maximal sequence of slots sharing an event id.
type Run struct {
	EventID int64 `json:"eventId"`
	Start   int   `json:"start"`
	Length  int   `json:"length"`
	Free    bool  `json:"free"`
}

// Patch annotates s in place and returns its runs in slot order.
// Previous annotations are cleared first, so patching twice is harmless.
func Patch(s *model.Schedule) []Run {
	for i := range s.Slots {
		s.Slots[i].FirstFrame = false
		s.Slots[i].Length = 0
	}
	s.MaxEmpty = 0
	if len(s.Slots) == 0 {
		return nil
	}

	var runs []Run
	flush := func(r Run) {
		runs = append(runs, r)
		if r.Free {
			if r.Length > s.MaxEmpty {
				s.MaxEmpty = r.Length
			}
			return
		}
		s.Slots[r.Start].FirstFrame = true
		s.Slots[r.Start].Length = r.Length
	}

	cur := Run{EventID: s.Slots[0].EventID, Start: 0, Length: 1, Free: s.Slots[0].EventID == 0}
	for i := 1; i < len(s.Slots); i++ {
		id := s.Slots[i].EventID
		if id == cur.EventID {
			cur.Length++
			continue
		}
		flush(cur)
		cur = Run{EventID: id, Start: i, Length: 1, Free: id == 0}
	}
	flush(cur)
	return runs
}

// PatchAll patches every schedule of list in place.
func PatchAll(list []model.Schedule) {
	for i := range list {
		Patch(&list[i])
	}
}

// Free reports how many contiguous free slots start at the slot beginning
// at from. It is 0 when no slot starts there or that slot is busy.
func Free(list []model.TimeSlot, from int64) int {
	start := -1
	for i, ts := range list {
		if ts.From == from {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}
	n := 0
	for _, ts := range list[start:] {
		if ts.Busy || ts.EventID != 0 {
			break
		}
		n++
	}
	return n
}
