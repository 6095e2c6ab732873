package types

import (
	"fmt"
	"strings"
)

// Kind describes the values held by a column.
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
	KindCategorical
	KindGeometry
)

var kindNames = [...]string{
	KindAny:         "any",
	KindInt:         "int",
	KindFloat:       "float",
	KindString:      "string",
	KindBool:        "bool",
	KindTime:        "time",
	KindCategorical: "categorical",
	KindGeometry:    "geometry",
}

// String returns the lowercase kind name used by the table codecs.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts a kind name to a Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return KindAny, nil
	}
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return KindAny, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// IsNumeric reports whether values of this kind take part in numeric
// aggregation. Booleans count as numeric (true=1, false=0).
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindBool
}

// Label identifies a column. A label with Func set is a two-level
// (name, reducer) pair, produced when a column is aggregated with a list
// of reducers.
type Label struct {
	Name string `json:"name"`
	Func string `json:"func,omitempty"`
}

// PairLabel returns the two-level label (name, fn).
func PairLabel(name, fn string) Label {
	return Label{Name: name, Func: fn}
}

// IsPair reports whether the label is two-level.
func (l Label) IsPair() bool {
	return l.Func != ""
}

func (l Label) String() string {
	if l.IsPair() {
		return fmt.Sprintf("(%s, %s)", l.Name, l.Func)
	}
	return l.Name
}

// Column is a named sequence of values. A nil entry marks a missing value.
type Column struct {
	Label Label
	Kind  Kind

	// Categories is the declared value domain of a categorical column, in
	// category order. Values must be drawn from it (or be nil).
	Categories []any

	Values []any
}

// NewColumn creates a column, normalizing integer and float widths to
// int64 and float64.
func NewColumn(name string, kind Kind, values ...any) *Column {
	return &Column{
		Label:  Label{Name: name},
		Kind:   kind,
		Values: normalizeAll(values),
	}
}

// NewCategorical creates a categorical column over the given domain.
func NewCategorical(name string, categories []any, values ...any) *Column {
	return &Column{
		Label:      Label{Name: name},
		Kind:       KindCategorical,
		Categories: normalizeAll(categories),
		Values:     normalizeAll(values),
	}
}

// NewGeometryColumn creates a geometry column. Nil geometries are missing values.
func NewGeometryColumn(name string, geoms ...Geometry) *Column {
	values := make([]any, len(geoms))
	for i, g := range geoms {
		if g != nil {
			values[i] = g
		}
	}
	return &Column{
		Label:  Label{Name: name},
		Kind:   KindGeometry,
		Values: values,
	}
}

// Name returns the first label level.
func (c *Column) Name() string {
	return c.Label.Name
}

// Len returns the number of values.
func (c *Column) Len() int {
	return len(c.Values)
}

// Value returns the value at row i.
func (c *Column) Value(i int) any {
	return c.Values[i]
}

// CategoryPos returns the position of v in the declared categories, or -1.
func (c *Column) CategoryPos(v any) int {
	for i, cat := range c.Categories {
		if Compare(cat, v) == 0 {
			return i
		}
	}
	return -1
}

// Take returns a new column holding the values at the given rows.
func (c *Column) Take(rows []int) *Column {
	values := make([]any, len(rows))
	for i, r := range rows {
		values[i] = c.Values[r]
	}
	out := c.cloneMeta()
	out.Values = values
	return out
}

// Clone returns a copy of the column. Values are shared by reference.
func (c *Column) Clone() *Column {
	out := c.cloneMeta()
	out.Values = append([]any(nil), c.Values...)
	return out
}

func (c *Column) cloneMeta() *Column {
	return &Column{
		Label:      c.Label,
		Kind:       c.Kind,
		Categories: append([]any(nil), c.Categories...),
	}
}

// Validate checks that the values agree with the declared kind.
func (c *Column) Validate() error {
	for i, v := range c.Values {
		if IsNull(v) {
			continue
		}
		if !kindAccepts(c.Kind, v) {
			return fmt.Errorf("%w: column %s row %d holds %T, want %s", ErrKindMismatch, c.Label, i, v, c.Kind)
		}
		if c.Kind == KindCategorical && c.CategoryPos(v) < 0 {
			return fmt.Errorf("%w: column %s row %d value %v", ErrNotACategory, c.Label, i, v)
		}
	}
	return nil
}

func kindAccepts(k Kind, v any) bool {
	switch k {
	case KindInt:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		switch v.(type) {
		case float64, int64:
			return true
		}
		return false
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTime:
		return rankOf(v) == rankTime
	case KindGeometry:
		_, ok := v.(Geometry)
		return ok
	default:
		return true
	}
}

// InferKind picks the narrowest kind able to hold every non-null value.
func InferKind(values []any) Kind {
	kind := KindAny
	for _, v := range values {
		if IsNull(v) {
			continue
		}
		var k Kind
		switch v.(type) {
		case int64:
			k = KindInt
		case float64:
			k = KindFloat
		case string:
			k = KindString
		case bool:
			k = KindBool
		case Geometry:
			k = KindGeometry
		default:
			if rankOf(v) == rankTime {
				k = KindTime
			} else {
				return KindAny
			}
		}
		switch {
		case kind == KindAny:
			kind = k
		case kind == k:
		case (kind == KindInt && k == KindFloat) || (kind == KindFloat && k == KindInt):
			kind = KindFloat
		default:
			return KindAny
		}
	}
	return kind
}
