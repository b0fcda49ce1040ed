package slots_test

import (
	"testing"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/slots"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

const frame = int64(30 * 60 * 1000)

// mkday builds a contiguous schedule from a list of event ids.
func mkday(ids ...int64) model.Schedule {
	s := model.Schedule{Room: &model.Room{Name: "Aspen", Email: "aspen@corp"}}
	for i, id := range ids {
		from := int64(i) * frame
		s.Slots = append(s.Slots, model.TimeSlot{EventID: id, From: from, To: from + frame, Busy: id != 0})
	}
	return s
}

func sumRuns(runs []slots.Run) int {
	n := 0
	for _, r := range runs {
		n += r.Length
	}
	return n
}

// ─── Patch ────────────────────────────────────────────────────────────────────

func TestPatchEmpty(t *testing.T) {
	s := mkday()
	runs := slots.Patch(&s)
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
	if s.MaxEmpty != 0 {
		t.Errorf("MaxEmpty: expected 0, got %d", s.MaxEmpty)
	}
}

func TestPatchSingleSlot(t *testing.T) {
	s := mkday(7)
	runs := slots.Patch(&s)
	if len(runs) != 1 || runs[0].Length != 1 {
		t.Fatalf("expected one run of length 1, got %+v", runs)
	}
	if !s.Slots[0].FirstFrame || s.Slots[0].Length != 1 {
		t.Errorf("single busy slot should be its own run: %+v", s.Slots[0])
	}
}

func TestPatchRunsAndMaxEmpty(t *testing.T) {
	s := mkday(0, 0, 5, 5, 5, 0, 9, 0, 0, 0)
	runs := slots.Patch(&s)

	if got := sumRuns(runs); got != len(s.Slots) {
		t.Errorf("sum of run lengths: expected %d, got %d", len(s.Slots), got)
	}
	if len(runs) != 5 {
		t.Fatalf("expected 5 runs, got %d: %+v", len(runs), runs)
	}
	if s.MaxEmpty != 3 {
		t.Errorf("MaxEmpty: expected 3, got %d", s.MaxEmpty)
	}
	if !s.Slots[2].FirstFrame || s.Slots[2].Length != 3 {
		t.Errorf("slot 2 should open a run of 3: %+v", s.Slots[2])
	}
	if s.Slots[3].FirstFrame || s.Slots[4].FirstFrame {
		t.Error("only the first slot of a run carries FirstFrame")
	}
	if !s.Slots[6].FirstFrame || s.Slots[6].Length != 1 {
		t.Errorf("slot 6 should open a run of 1: %+v", s.Slots[6])
	}
	if s.Slots[0].FirstFrame {
		t.Error("free slots are never annotated")
	}
}

func TestPatchLeadingFreeRunNotOvercounted(t *testing.T) {
	s := mkday(0, 0, 4)
	slots.Patch(&s)
	if s.MaxEmpty != 2 {
		t.Errorf("MaxEmpty: expected 2, got %d", s.MaxEmpty)
	}
}

func TestPatchAdjacentBusyRuns(t *testing.T) {
	s := mkday(1, 1, 2, 2, 2)
	runs := slots.Patch(&s)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if s.Slots[0].Length != 2 || s.Slots[2].Length != 3 {
		t.Errorf("lengths: expected 2 and 3, got %d and %d", s.Slots[0].Length, s.Slots[2].Length)
	}
	if s.MaxEmpty != 0 {
		t.Errorf("MaxEmpty: expected 0 for a fully booked day, got %d", s.MaxEmpty)
	}
}

func TestPatchIdempotent(t *testing.T) {
	s := mkday(0, 3, 3, 0)
	slots.Patch(&s)
	s.Slots[1].EventID = 0
	s.Slots[1].Busy = false
	s.Slots[2].EventID = 0
	s.Slots[2].Busy = false
	slots.Patch(&s)
	for i, ts := range s.Slots {
		if ts.FirstFrame || ts.Length != 0 {
			t.Errorf("slot %d kept a stale annotation: %+v", i, ts)
		}
	}
	if s.MaxEmpty != 4 {
		t.Errorf("MaxEmpty: expected 4, got %d", s.MaxEmpty)
	}
}

func TestPatchSubjectAgnostic(t *testing.T) {
	room := mkday(0, 2, 2, 0)
	user := mkday(0, 2, 2, 0)
	user.Room = nil
	user.User = &model.User{Address: "ada@corp"}

	slots.Patch(&room)
	slots.Patch(&user)
	for i := range room.Slots {
		if room.Slots[i] != user.Slots[i] {
			t.Errorf("slot %d differs between room and user: %+v vs %+v", i, room.Slots[i], user.Slots[i])
		}
	}
	if room.MaxEmpty != user.MaxEmpty {
		t.Errorf("MaxEmpty differs: %d vs %d", room.MaxEmpty, user.MaxEmpty)
	}
}

func TestPatchAll(t *testing.T) {
	list := []model.Schedule{mkday(0, 0), mkday(1, 0, 0, 0)}
	slots.PatchAll(list)
	if list[0].MaxEmpty != 2 || list[1].MaxEmpty != 3 {
		t.Errorf("MaxEmpty: expected 2 and 3, got %d and %d", list[0].MaxEmpty, list[1].MaxEmpty)
	}
}

// ─── Free ─────────────────────────────────────────────────────────────────────

func TestFree(t *testing.T) {
	s := mkday(0, 0, 0, 8, 0)
	tests := []struct {
		from int64
		want int
	}{
		{0, 3},
		{frame, 2},
		{3 * frame, 0},
		{4 * frame, 1},
		{99 * frame, 0},
	}
	for _, tt := range tests {
		if got := slots.Free(s.Slots, tt.from); got != tt.want {
			t.Errorf("Free(%d): expected %d, got %d", tt.from, tt.want, got)
		}
	}
}
