// Package pipeline provides helpers for reading and writing schedule streams
// via stdin/stdout. Input may be a service payload, a JSON array, or JSONL
// with one schedule per line; output is JSONL, the canonical pipe format.
package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rookboom/rookboom/internal/model"
)

// ReadSchedules decodes every schedule found in r. Each top-level JSON value
// may be a room payload ({"schedule": [...]}), an attendee payload
// ({"result": [...]}), an array of schedules, a single schedule, or a
// rookboom JSON result ({"kind": ..., "data": ...}) holding any of these.
func ReadSchedules(r io.Reader) ([]model.Schedule, error) {
	dec := json.NewDecoder(r)
	var out []model.Schedule
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("value %d: invalid JSON: %w", n, err)
		}
		got, err := schedulesFrom(raw)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", n, err)
		}
		out = append(out, got...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no schedules read from input (is stdin empty?)")
	}
	return out, nil
}

func schedulesFrom(raw json.RawMessage) ([]model.Schedule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.Schedule
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, fmt.Errorf("expected object or array: %w", err)
	}
	if keys["kind"] != nil && keys["data"] != nil {
		return schedulesFrom(keys["data"])
	}
	_, room := keys["room"]
	_, user := keys["user"]
	switch {
	case room || user:
		var s model.Schedule
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []model.Schedule{s}, nil
	case keys["result"] != nil:
		var p model.AttendeePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		return p.Result, nil
	case keys["schedule"] != nil:
		var p model.SchedulePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		return p.Schedule, nil
	}
	return nil, errors.New("object is neither a schedule nor a schedule payload")
}

// ReadTimeMask decodes a time grid from r: a service payload
// ({"timeMask": {...}}), a bare {"frames", "interval"} object, or a rookboom
// JSON result whose data is either.
func ReadTimeMask(r io.Reader) (model.TimeMask, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return model.TimeMask{}, fmt.Errorf("reading time grid: %w", err)
	}
	return timeMaskFrom(raw)
}

func timeMaskFrom(raw json.RawMessage) (model.TimeMask, error) {
	var p struct {
		model.TimeMask
		Wrapped *model.TimeMask `json:"timeMask"`
		Kind    string          `json:"kind"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.TimeMask{}, fmt.Errorf("reading time grid: %w", err)
	}
	switch {
	case p.Kind != "" && len(p.Data) > 0:
		return timeMaskFrom(p.Data)
	case p.Wrapped != nil:
		return *p.Wrapped, nil
	}
	return p.TimeMask, nil
}

// WriteJSONL writes schedules as JSONL to w.
func WriteJSONL(w io.Writer, list []model.Schedule) error {
	enc := json.NewEncoder(w)
	for _, s := range list {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

// IsTTY returns true if stdout is a terminal (not a pipe).
func IsTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
