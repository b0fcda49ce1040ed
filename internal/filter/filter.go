// Package filter narrows a list of room schedules by attribute selections.
//
// Each configured Descriptor is turned into one or more per-field Filters by
// its Kind. Within a field the selected values combine by union; across
// fields the results combine by intersection, applied as a left fold in
// configuration order with the free-text name filter last.
package filter

import (
	"fmt"
	"strings"

	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/util"
)

// Kind names accepted in descriptors.
const (
	KindValue  = "value"
	KindRange  = "range"
	KindBinary = "binary"
)

// NameField is the field id of the free-text name filter.
const NameField = "name"

// DefaultPresent is the attribute value a binary filter looks for.
const DefaultPresent = "true"

// ─── Descriptors ──────────────────────────────────────────────────────────────

// Bucket is one named [Low, High) interval of a range filter.
type Bucket struct {
	Label string `yaml:"label" json:"label"`
	Low   int64  `yaml:"low"   json:"low"`
	High  int64  `yaml:"high"  json:"high"`
}

// Label names one attribute key of a binary filter.
type Label struct {
	Field string `yaml:"field" json:"field"`
	Label string `yaml:"label" json:"label"`
}

// Descriptor is the static configuration of one filter group.
type Descriptor struct {
	ID      string   `yaml:"id"                json:"id"`
	Kind    string   `yaml:"kind"              json:"kind"`
	Field   string   `yaml:"field,omitempty"   json:"field,omitempty"`
	Range   []Bucket `yaml:"range,omitempty"   json:"range,omitempty"`
	Labels  []Label  `yaml:"labels,omitempty"  json:"labels,omitempty"`
	Present string   `yaml:"present,omitempty" json:"present,omitempty"`
}

func (d Descriptor) present() string {
	if d.Present == "" {
		return DefaultPresent
	}
	return d.Present
}

func (d Descriptor) bucket(label string) (Bucket, bool) {
	for _, b := range d.Range {
		if b.Label == label {
			return b, true
		}
	}
	return Bucket{}, false
}

// ─── Filters & Presentation ───────────────────────────────────────────────────

// Predicate reports whether a candidate passes.
type Predicate func(model.Schedule) bool

// Filter builds the predicate for one selected value of Field.
type Filter struct {
	Field string
	Match func(value string) Predicate
}

// Selector exposes the currently selected values per field.
type Selector interface {
	FieldValues(field string) []string
}

// Option is one selectable value of a filter group.
type Option struct {
	Label  string `json:"label"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Active bool   `json:"active"`
}

// Presentation is the selectable state of one filter group.
// Any is true when no option is active, including when there are none.
type Presentation struct {
	ID     string   `json:"id"`
	Kind   string   `json:"kind"`
	Field  string   `json:"field,omitempty"`
	Values []Option `json:"values"`
	Any    bool     `json:"any"`
}

// Kind turns a descriptor into filters and a presentation.
type Kind interface {
	Filters(d Descriptor) []Filter
	Presentation(d Descriptor, sel Selector, original []model.Schedule) Presentation
}

func selected(sel Selector, field string) map[string]bool {
	out := map[string]bool{}
	for _, v := range sel.FieldValues(field) {
		out[v] = true
	}
	return out
}

func attributeEquals(field, value string) Predicate {
	return func(s model.Schedule) bool {
		v, ok := s.Attribute(field)
		return ok && v == value
	}
}

// ─── Value Kind ───────────────────────────────────────────────────────────────

// ValueKind matches an attribute exactly against each selected value.
type ValueKind struct{}

func (ValueKind) Filters(d Descriptor) []Filter {
	return []Filter{{
		Field: d.Field,
		Match: func(value string) Predicate { return attributeEquals(d.Field, value) },
	}}
}

// Presentation lists every distinct value observed in original.
func (ValueKind) Presentation(d Descriptor, sel Selector, original []model.Schedule) Presentation {
	var vals []string
	for _, s := range original {
		if v, ok := s.Attribute(d.Field); ok {
			vals = append(vals, v)
		}
	}
	vals = util.Uniq(vals)
	util.SortValues(vals)

	active := selected(sel, d.Field)
	p := Presentation{ID: d.ID, Kind: KindValue, Field: d.Field, Values: []Option{}, Any: len(active) == 0}
	for _, v := range vals {
		p.Values = append(p.Values, Option{Label: v, Field: d.Field, Value: v, Active: active[v]})
	}
	return p
}

// ─── Range Kind ───────────────────────────────────────────────────────────────

// RangeKind matches an integer attribute against named [low, high) buckets.
type RangeKind struct{}

func (RangeKind) Filters(d Descriptor) []Filter {
	return []Filter{{
		Field: d.Field,
		Match: func(label string) Predicate {
			b, ok := d.bucket(label)
			if !ok {
				return func(model.Schedule) bool { return false }
			}
			return func(s model.Schedule) bool {
				raw, ok := s.Attribute(d.Field)
				if !ok {
					return false
				}
				n, ok := util.ParseInt(raw)
				return ok && b.Low <= n && n < b.High
			}
		},
	}}
}

// Presentation lists the buckets in table order.
func (RangeKind) Presentation(d Descriptor, sel Selector, _ []model.Schedule) Presentation {
	active := selected(sel, d.Field)
	p := Presentation{ID: d.ID, Kind: KindRange, Field: d.Field, Values: []Option{}, Any: len(active) == 0}
	for _, b := range d.Range {
		p.Values = append(p.Values, Option{Label: b.Label, Field: d.Field, Value: b.Label, Active: active[b.Label]})
	}
	return p
}

// ─── Binary Kind ──────────────────────────────────────────────────────────────

// BinaryKind yields one filter per labelled attribute key. A candidate
// passes when the attribute equals the descriptor's present sentinel.
type BinaryKind struct{}

func (BinaryKind) Filters(d Descriptor) []Filter {
	out := make([]Filter, 0, len(d.Labels))
	for _, l := range d.Labels {
		field := l.Field
		out = append(out, Filter{
			Field: field,
			Match: func(string) Predicate { return attributeEquals(field, d.present()) },
		})
	}
	return out
}

// Presentation marks a key active when it has any selection.
func (BinaryKind) Presentation(d Descriptor, sel Selector, _ []model.Schedule) Presentation {
	p := Presentation{ID: d.ID, Kind: KindBinary, Values: []Option{}, Any: true}
	for _, l := range d.Labels {
		active := len(sel.FieldValues(l.Field)) > 0
		if active {
			p.Any = false
		}
		p.Values = append(p.Values, Option{Label: l.Label, Field: l.Field, Value: d.present(), Active: active})
	}
	return p
}

// ─── Name Filter ──────────────────────────────────────────────────────────────

// NameFilter matches a case-insensitive substring of the display name.
func NameFilter() Filter {
	return Filter{
		Field: NameField,
		Match: func(value string) Predicate {
			pattern := strings.ToLower(value)
			return func(s model.Schedule) bool {
				return strings.Contains(strings.ToLower(s.Name()), pattern)
			}
		},
	}
}

// ─── Engine ───────────────────────────────────────────────────────────────────

var kinds = map[string]Kind{
	KindValue:  ValueKind{},
	KindRange:  RangeKind{},
	KindBinary: BinaryKind{},
}

// Engine applies a fixed, ordered set of filters.
type Engine struct {
	descs   []Descriptor
	filters []Filter
	fields  []string
}

// NewEngine builds an engine from descriptors in configuration order.
func NewEngine(descs []Descriptor) (*Engine, error) {
	e := &Engine{descs: append([]Descriptor(nil), descs...)}
	seen := map[string]bool{}
	add := func(f Filter) {
		e.filters = append(e.filters, f)
		if !seen[f.Field] {
			seen[f.Field] = true
			e.fields = append(e.fields, f.Field)
		}
	}
	for _, d := range descs {
		k, ok := kinds[d.Kind]
		if !ok {
			return nil, fmt.Errorf("filter %q: unknown kind %q", d.ID, d.Kind)
		}
		if d.Kind != KindBinary && d.Field == "" {
			return nil, fmt.Errorf("filter %q: field is required for kind %s", d.ID, d.Kind)
		}
		for _, f := range k.Filters(d) {
			add(f)
		}
	}
	add(NameFilter())
	return e, nil
}

// Fields returns the filtered field ids in application order.
func (e *Engine) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Descriptors returns the configured descriptors.
func (e *Engine) Descriptors() []Descriptor {
	return append([]Descriptor(nil), e.descs...)
}

// Apply narrows list to the candidates passing every active field.
// A field with no selected values passes everything. The result keeps the
// relative order of list.
func (e *Engine) Apply(sel Selector, list []model.Schedule) []model.Schedule {
	out := list
	for _, f := range e.filters {
		vals := sel.FieldValues(f.Field)
		if len(vals) == 0 {
			continue
		}
		preds := make([]Predicate, len(vals))
		for i, v := range vals {
			preds[i] = f.Match(v)
		}
		next := make([]model.Schedule, 0, len(out))
		for _, s := range out {
			for _, p := range preds {
				if p(s) {
					next = append(next, s)
					break
				}
			}
		}
		out = next
	}
	return out
}

// Presentation returns one group per descriptor, in configuration order.
func (e *Engine) Presentation(sel Selector, original []model.Schedule) []Presentation {
	out := make([]Presentation, 0, len(e.descs))
	for _, d := range e.descs {
		out = append(out, kinds[d.Kind].Presentation(d, sel, original))
	}
	return out
}

// Visible drops value and range groups that offer fewer than two choices.
func Visible(groups []Presentation) []Presentation {
	out := make([]Presentation, 0, len(groups))
	for _, g := range groups {
		if g.Kind != KindBinary && len(g.Values) < 2 {
			continue
		}
		out = append(out, g)
	}
	return out
}

// Values is a plain Selector backed by a map.
type Values map[string][]string

func (v Values) FieldValues(field string) []string { return v[field] }
