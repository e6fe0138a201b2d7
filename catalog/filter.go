package catalog

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FilterOp is a filter tree operator.
type FilterOp string

const (
	OpAnd            FilterOp = "and"
	OpOr             FilterOp = "or"
	OpNot            FilterOp = "not"
	OpEqual          FilterOp = "eq"
	OpLike           FilterOp = "like"
	OpGreater        FilterOp = "gt"
	OpGreaterOrEqual FilterOp = "gte"
	OpLess           FilterOp = "lt"
	OpLessOrEqual    FilterOp = "lte"
	OpDuring         FilterOp = "during"
	OpDWithin        FilterOp = "dwithin"
	OpAny            FilterOp = "any"
)

// Filter is a serializable filter expression. Leaf operators read Property
// and Value; during reads From/To; dwithin reads Point/Meters; and/or/not
// read Children.
//
// like patterns use * for any run of characters and ? for a single character,
// matched case-insensitively.
type Filter struct {
	Op       FilterOp   `json:"op"`
	Property string     `json:"property,omitempty"`
	Value    any        `json:"value,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Point    *Point     `json:"point,omitempty"`
	Meters   float64    `json:"meters,omitempty"`
	Children []*Filter  `json:"children,omitempty"`
}

// And matches when all children match.
func And(children ...*Filter) *Filter { return &Filter{Op: OpAnd, Children: children} }

// Or matches when any child matches.
func Or(children ...*Filter) *Filter { return &Filter{Op: OpOr, Children: children} }

// Not negates f.
func Not(f *Filter) *Filter { return &Filter{Op: OpNot, Children: []*Filter{f}} }

// Equal matches property == value.
func Equal(property string, value any) *Filter {
	return &Filter{Op: OpEqual, Property: property, Value: value}
}

// Like matches property against a wildcard pattern.
func Like(property, pattern string) *Filter {
	return &Filter{Op: OpLike, Property: property, Value: pattern}
}

// Greater matches property > value.
func Greater(property string, value any) *Filter {
	return &Filter{Op: OpGreater, Property: property, Value: value}
}

// GreaterOrEqual matches property >= value.
func GreaterOrEqual(property string, value any) *Filter {
	return &Filter{Op: OpGreaterOrEqual, Property: property, Value: value}
}

// Less matches property < value.
func Less(property string, value any) *Filter {
	return &Filter{Op: OpLess, Property: property, Value: value}
}

// LessOrEqual matches property <= value.
func LessOrEqual(property string, value any) *Filter {
	return &Filter{Op: OpLessOrEqual, Property: property, Value: value}
}

// During matches a temporal property inside [from, to]. Either bound may be nil.
func During(property string, from, to *time.Time) *Filter {
	return &Filter{Op: OpDuring, Property: property, From: from, To: to}
}

// DWithin matches metacards located within meters of p.
func DWithin(p Point, meters float64) *Filter {
	return &Filter{Op: OpDWithin, Property: PropertyLocation, Point: &p, Meters: meters}
}

// Any matches everything.
func Any() *Filter { return &Filter{Op: OpAny} }

var errEmptyFilter = errors.New("nil filter node")

// Validate checks the structure of the tree.
func (f *Filter) Validate() error {
	if f == nil {
		return errEmptyFilter
	}
	switch f.Op {
	case OpAny:
		return nil
	case OpAnd, OpOr:
		if len(f.Children) == 0 {
			return fmt.Errorf("%s requires at least one child", f.Op)
		}
		for i, c := range f.Children {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", f.Op, i, err)
			}
		}
		return nil
	case OpNot:
		if len(f.Children) != 1 {
			return fmt.Errorf("not requires exactly one child, got %d", len(f.Children))
		}
		return f.Children[0].Validate()
	case OpEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		if f.Property == "" {
			return fmt.Errorf("%s requires a property", f.Op)
		}
		if f.Value == nil {
			return fmt.Errorf("%s requires a value", f.Op)
		}
		return nil
	case OpLike:
		if f.Property == "" {
			return errors.New("like requires a property")
		}
		if _, ok := f.Value.(string); !ok {
			return errors.New("like requires a string pattern")
		}
		return nil
	case OpDuring:
		if f.Property == "" {
			return errors.New("during requires a property")
		}
		if f.From == nil && f.To == nil {
			return errors.New("during requires at least one bound")
		}
		return nil
	case OpDWithin:
		if f.Point == nil {
			return errors.New("dwithin requires a point")
		}
		if f.Meters < 0 || math.IsNaN(f.Meters) {
			return errors.New("dwithin requires a non-negative distance")
		}
		return nil
	default:
		return fmt.Errorf("unknown filter op %q", f.Op)
	}
}

// Match evaluates f against m. A nil filter matches everything.
func (f *Filter) Match(m *Metacard) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case OpAny:
		return true
	case OpAnd:
		for _, c := range f.Children {
			if !c.Match(m) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Children {
			if c.Match(m) {
				return true
			}
		}
		return false
	case OpNot:
		return len(f.Children) == 1 && !f.Children[0].Match(m)
	case OpLike:
		pattern, _ := f.Value.(string)
		re := LikePattern(pattern)
		for _, s := range textValues(m, f.Property) {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	case OpEqual:
		if f.Property == PropertyAnyText {
			needle := strings.ToLower(fmt.Sprint(f.Value))
			for _, s := range textValues(m, PropertyAnyText) {
				if strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
			return false
		}
		c, ok := compareProperty(m, f.Property, f.Value)
		return ok && c == 0
	case OpGreater:
		c, ok := compareProperty(m, f.Property, f.Value)
		return ok && c > 0
	case OpGreaterOrEqual:
		c, ok := compareProperty(m, f.Property, f.Value)
		return ok && c >= 0
	case OpLess:
		c, ok := compareProperty(m, f.Property, f.Value)
		return ok && c < 0
	case OpLessOrEqual:
		c, ok := compareProperty(m, f.Property, f.Value)
		return ok && c <= 0
	case OpDuring:
		t := m.Time(f.Property)
		if t == nil {
			return false
		}
		if f.From != nil && t.Before(*f.From) {
			return false
		}
		if f.To != nil && t.After(*f.To) {
			return false
		}
		return true
	case OpDWithin:
		if m == nil || m.Location == nil || f.Point == nil {
			return false
		}
		return m.Location.DistanceMeters(*f.Point) <= f.Meters
	}
	return false
}

// Terms returns the plain-text terms of like/eq nodes on text properties.
// Sources use them to score relevance.
func (f *Filter) Terms() []string {
	if f == nil {
		return nil
	}
	var out []string
	switch f.Op {
	case OpAnd, OpOr:
		for _, c := range f.Children {
			out = append(out, c.Terms()...)
		}
	case OpLike, OpEqual:
		if s, ok := f.Value.(string); ok && isTextProperty(f.Property) {
			s = strings.Trim(strings.NewReplacer("*", " ", "?", " ").Replace(s), " ")
			out = append(out, strings.Fields(strings.ToLower(s))...)
		}
	}
	return out
}

// SpatialAnchor returns the point of the first dwithin node, for distance scoring.
func (f *Filter) SpatialAnchor() (Point, bool) {
	if f == nil {
		return Point{}, false
	}
	if f.Op == OpDWithin && f.Point != nil {
		return *f.Point, true
	}
	if f.Op == OpNot {
		return Point{}, false
	}
	for _, c := range f.Children {
		if p, ok := c.SpatialAnchor(); ok {
			return p, true
		}
	}
	return Point{}, false
}

func isTextProperty(p string) bool {
	switch p {
	case PropertyAnyText, PropertyTitle, PropertyMetadata:
		return true
	}
	return false
}

var likeCache sync.Map

// LikePattern compiles a wildcard pattern into a case-insensitive anchored regexp.
func LikePattern(pattern string) *regexp.Regexp {
	if re, ok := likeCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile("(?is)" + LikeRegexp(pattern))
	likeCache.Store(pattern, re)
	return re
}

// LikeRegexp translates a wildcard pattern into an anchored regular
// expression without flags.
func LikeRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func textValues(m *Metacard, property string) []string {
	if m == nil {
		return nil
	}
	if property != PropertyAnyText {
		v, ok := m.Value(property)
		if !ok {
			return nil
		}
		return []string{fmt.Sprint(v)}
	}
	out := []string{m.Title, m.Metadata}
	for _, v := range m.Attributes {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func compareProperty(m *Metacard, property string, want any) (int, bool) {
	got, ok := m.Value(property)
	if !ok {
		return 0, false
	}
	return compareValues(got, want)
}

func compareValues(got, want any) (int, bool) {
	if gt, ok := got.(time.Time); ok {
		wt, ok := toTime(want)
		if !ok {
			return 0, false
		}
		return gt.Compare(wt), true
	}
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case gf < wf:
			return -1, true
		case gf > wf:
			return 1, true
		}
		return 0, true
	}
	gs, ok := got.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(gs, fmt.Sprint(want)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
