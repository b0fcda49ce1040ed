// Package hash encodes session state into a URL fragment and decodes it back.
//
// A fragment is a list of key=value segments joined by '&':
//
//	date=2024-3-5&attendees=ada,bob&filters=building:%5B%22HQ%22%5D&at=SF&recurrence=...&timeframe=Night
//
// Encoding writes segments in a fixed order and omits empty or default ones.
// Decoding applies date, attendees, filters, location, timeframe and
// recurrence inside one state batch, so subscribers observe a single change.
package hash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/recurrence"
	"github.com/rookboom/rookboom/internal/state"
	"github.com/rookboom/rookboom/internal/tz"
	"github.com/rookboom/rookboom/internal/util"
)

// Segment keys.
const (
	KeyDate       = "date"
	KeyAttendees  = "attendees"
	KeyFilters    = "filters"
	KeyLocation   = "at"
	KeyRecurrence = "recurrence"
	KeyTimeframe  = "timeframe"
)

// ParseError records a fragment segment that could not be applied.
type ParseError struct {
	Segment string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fragment segment %s=%q: %v", e.Segment, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Codec converts between state and fragments.
type Codec struct {
	// Domain is appended to bare attendee aliases and stripped on encode.
	Domain string
	// Resolve maps a site id to a known site, falling back to the default.
	// A nil Resolve accepts any id.
	Resolve func(siteID string) string
	// TZ supplies the local zone and the current instant.
	TZ tz.Adjuster
}

// ─── Encode ───────────────────────────────────────────────────────────────────

// Encode renders v as a fragment. Filter fields are written in the order of
// fields; selections on other fields are dropped.
func (c Codec) Encode(v state.Values, fields []string) string {
	segs := []string{KeyDate + "=" + util.FormatDate(model.Time(v.Day, c.TZ.Location()))}

	if len(v.Attendees) > 0 {
		names := make([]string, len(v.Attendees))
		for i, a := range v.Attendees {
			names[i] = EscapeComponent(c.alias(a))
		}
		segs = append(segs, KeyAttendees+"="+strings.Join(names, ","))
	}

	var filters []string
	for _, f := range fields {
		vals := v.Fields[f]
		if len(vals) == 0 {
			continue
		}
		filters = append(filters, f+":"+EscapeComponent(marshal(vals)))
	}
	if len(filters) > 0 {
		segs = append(segs, KeyFilters+"="+strings.Join(filters, ";"))
	}

	if v.Location != "" {
		segs = append(segs, KeyLocation+"="+v.Location)
	}
	if v.Recurrence.Active {
		segs = append(segs, KeyRecurrence+"="+EscapeComponent(marshal(v.Recurrence)))
	}
	if v.Timeframe != "" && v.Timeframe != model.DefaultTimeframe {
		segs = append(segs, KeyTimeframe+"="+string(v.Timeframe))
	}
	return strings.Join(segs, "&")
}

func (c Codec) alias(addr string) string {
	if c.Domain == "" {
		return addr
	}
	return strings.TrimSuffix(addr, "@"+c.Domain)
}

func (c Codec) address(alias string) string {
	if c.Domain == "" || strings.Contains(alias, "@") {
		return alias
	}
	return alias + "@" + c.Domain
}

// marshal encodes v as JSON without HTML escaping.
func marshal(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// ─── Decode ───────────────────────────────────────────────────────────────────

// Split parses a fragment into its key/value segments. A leading '#' is
// ignored and a first segment without '=' is read as the date. Later
// duplicates win; empty segments are skipped.
func Split(fragment string) map[string]string {
	fragment = strings.TrimPrefix(fragment, "#")
	out := map[string]string{}
	for i, seg := range strings.Split(fragment, "&") {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			if i == 0 {
				out[KeyDate] = k
			}
			continue
		}
		out[k] = v
	}
	return out
}

// Decode applies fragment to st in one batch and then adds principal as an
// attendee. Segments that fail to parse keep their defaults; the failures
// are returned together for logging.
func (c Codec) Decode(fragment string, st *state.Store, principal string) error {
	segs := Split(fragment)
	var errs util.MultiError

	st.Batch(func(st *state.Store) {
		st.SetDay(c.decodeDate(segs[KeyDate], &errs))

		if v, ok := segs[KeyAttendees]; ok {
			var addrs []string
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(unescape(name)); name != "" {
					addrs = append(addrs, c.address(name))
				}
			}
			st.SetAttendees(addrs)
		}

		if v, ok := segs[KeyFilters]; ok {
			for _, item := range strings.Split(v, ";") {
				field, raw, _ := strings.Cut(item, ":")
				if field == "" {
					continue
				}
				vals, err := decodeValues(raw)
				if err != nil {
					errs.Add(&ParseError{Segment: KeyFilters, Value: item, Err: err})
					continue
				}
				st.SetField(field, vals)
			}
		}

		if v, ok := segs[KeyLocation]; ok {
			id := unescape(v)
			if c.Resolve != nil {
				id = c.Resolve(id)
			}
			st.SetLocation(id)
		}

		if v, ok := segs[KeyTimeframe]; ok {
			tf, err := model.ParseTimeframe(v)
			if err != nil {
				errs.Add(&ParseError{Segment: KeyTimeframe, Value: v, Err: err})
			} else {
				st.SetTimeframe(tf)
			}
		}

		if v, ok := segs[KeyRecurrence]; ok {
			var r recurrence.Rule
			if err := json.Unmarshal([]byte(unescape(v)), &r); err != nil {
				errs.Add(&ParseError{Segment: KeyRecurrence, Value: v, Err: err})
			} else {
				st.SetRecurrence(r)
				if r.Confirmed() {
					st.SetDay(r.FirstDay)
				}
			}
		}

		if principal != "" {
			st.AddAttendee(principal)
		}
	})
	return errs.Err()
}

// decodeDate returns local midnight of the fragment date when it lies ahead
// of now, and today otherwise.
func (c Codec) decodeDate(v string, errs *util.MultiError) int64 {
	now := c.TZ.NowMillis()
	if v == "" {
		return c.TZ.RoundToDayDown(now)
	}
	y, m, d, err := util.ParseDate(unescape(v))
	if err != nil {
		errs.Add(&ParseError{Segment: KeyDate, Value: v, Err: err})
		return c.TZ.RoundToDayDown(now)
	}
	// 01:00 on the fragment date must lie ahead of now.
	t := c.TZ.Midnight(y, m, d) + 3_600_000
	if t > now {
		return c.TZ.RoundToDayDown(t)
	}
	return c.TZ.RoundToDayDown(now)
}

func decodeValues(raw string) ([]string, error) {
	var items []any
	if err := json.Unmarshal([]byte(unescape(raw)), &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case string:
			out = append(out, x)
		case float64:
			out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(x))
		default:
			return nil, fmt.Errorf("unsupported filter value %v", it)
		}
	}
	return out, nil
}

// unescape decodes a URI component, passing raw text through unchanged.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// ─── Escaping ─────────────────────────────────────────────────────────────────

const upperhex = "0123456789ABCDEF"

// EscapeComponent percent-encodes s, leaving letters, digits and
// -_.!~*'() as they are.
func EscapeComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if unreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[ch>>4])
		b.WriteByte(upperhex[ch&15])
	}
	return b.String()
}

func unreserved(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", ch) >= 0
}
