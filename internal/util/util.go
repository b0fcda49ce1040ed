// Package util provides shared utilities: fragment date formatting,
// attribute parsing, and error collection.
package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ─── Date Parsing ─────────────────────────────────────────────────────────────

// FormatDate formats t as Y-M-D without zero padding, the form used in the
// URL fragment ("2024-3-5").
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a Y-M-D string (padding optional) into its components.
func ParseDate(s string) (year int, month time.Month, day int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid date %q: expected Y-M-D", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid date %q: expected Y-M-D", s)
		}
		nums[i] = n
	}
	if nums[1] < 1 || nums[1] > 12 || nums[2] < 1 || nums[2] > 31 {
		return 0, 0, 0, fmt.Errorf("invalid date %q: out of range", s)
	}
	if t := time.Date(nums[0], time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC); t.Day() != nums[2] {
		return 0, 0, 0, fmt.Errorf("invalid date %q: no such day", s)
	}
	return nums[0], time.Month(nums[1]), nums[2], nil
}

// ─── Attribute Values ─────────────────────────────────────────────────────────

// ParseInt parses the leading integer of s the way a lenient form field
// would: surrounding space is ignored and trailing garbage is dropped.
func ParseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c == '-' || c == '+') && end == 0 {
			end++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortValues sorts distinct attribute values numerically when every one of
// them is an integer and lexicographically otherwise.
func SortValues(vals []string) {
	numeric := len(vals) > 0
	for _, v := range vals {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			numeric = false
			break
		}
	}
	if numeric {
		sort.SliceStable(vals, func(i, j int) bool {
			a, _ := strconv.ParseInt(vals[i], 10, 64)
			b, _ := strconv.ParseInt(vals[j], 10, 64)
			return a < b
		})
		return
	}
	sort.Strings(vals)
}

// Uniq returns vals with duplicates removed, keeping first occurrence order.
func Uniq(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// ─── Error Helpers ────────────────────────────────────────────────────────────

// MultiError collects multiple errors and presents them as one.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error { return m.Errors }
