// Package timegrid models the discrete frames of one fetched day.
package timegrid

import (
	"errors"
	"fmt"
	"time"

	"github.com/rookboom/rookboom/internal/model"
)

// ErrMalformedGrid is wrapped by every grid validation failure.
var ErrMalformedGrid = errors.New("malformed time grid")

// MalformedGridError describes where the even spacing of a grid breaks.
// Index is -1 when the interval itself is invalid.
type MalformedGridError struct {
	Index    int
	Interval int64
	Got      int64
}

func (e *MalformedGridError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed time grid: interval %d must be positive", e.Interval)
	}
	return fmt.Sprintf("malformed time grid: frame %d is %dms after its predecessor, want %d",
		e.Index, e.Got, e.Interval)
}

func (e *MalformedGridError) Unwrap() error { return ErrMalformedGrid }

// Placeholder identifies the synthetic "no specific room" option.
const (
	PlaceholderName     = "Anywhere"
	PlaceholderEmail    = "anywhere"
	PlaceholderBuilding = "Meet without a room"
)

// Board sizing for the schedule view.
const (
	minWidth    = 800
	frameWidth  = 41
	headerWidth = 205
)

const hour = int64(time.Hour / time.Millisecond)

// Grid is an evenly spaced sequence of frame starts.
type Grid struct {
	Frames   []int64 `json:"frames"`
	Interval int64   `json:"interval"`
}

// Build validates frames against interval and returns the grid.
func Build(frames []int64, interval int64) (*Grid, error) {
	if interval <= 0 {
		return nil, &MalformedGridError{Index: -1, Interval: interval}
	}
	for i := 1; i < len(frames); i++ {
		if d := frames[i] - frames[i-1]; d != interval {
			return nil, &MalformedGridError{Index: i, Interval: interval, Got: d}
		}
	}
	return &Grid{Frames: append([]int64(nil), frames...), Interval: interval}, nil
}

// FromMask builds a grid from its wire form.
func FromMask(m model.TimeMask) (*Grid, error) {
	return Build(m.Frames, m.Interval)
}

// Placeholder returns the room that stands for meeting without a room.
func Placeholder() *model.Room {
	return &model.Room{
		Name:  PlaceholderName,
		Email: PlaceholderEmail,
		Attributes: model.Attributes{
			"building": PlaceholderBuilding,
			"capacity": "*",
			"video":    "false",
		},
	}
}

// IsPlaceholder reports whether s is the synthetic room.
func IsPlaceholder(s model.Schedule) bool {
	return s.Room != nil && s.Room.Email == PlaceholderEmail
}

// Synthesize returns a schedule in which every frame is free.
func (g *Grid) Synthesize() model.Schedule {
	s := model.Schedule{Room: Placeholder(), Slots: make([]model.TimeSlot, 0, len(g.Frames))}
	for _, f := range g.Frames {
		s.Slots = append(s.Slots, model.TimeSlot{From: f, To: f + g.Interval})
	}
	return s
}

// HourBoundaries returns the frames whose wall-clock minute in loc is zero.
func (g *Grid) HourBoundaries(loc *time.Location) []int64 {
	var out []int64
	for _, f := range g.Frames {
		if model.Time(f, loc).Minute() == 0 {
			out = append(out, f)
		}
	}
	return out
}

// Width returns the board width in pixels for this grid.
func (g *Grid) Width() int {
	return max(minWidth, len(g.Frames)*frameWidth+headerWidth)
}

// NowFrame finds the hour boundary within half an hour of now and the
// position of now inside the hour centred on it, in [0, 1).
func (g *Grid) NowFrame(now int64, loc *time.Location) (frame int64, pos float64, ok bool) {
	half := hour / 2
	for _, f := range g.HourBoundaries(loc) {
		if f-half <= now && f+half > now {
			return f, float64(now-(f-half)) / float64(hour), true
		}
	}
	return 0, 0, false
}
