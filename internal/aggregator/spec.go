package aggregator

import (
	"fmt"
	"strings"

	dserrors "github.com/arkilian/dissolve/internal/errors"
)

// ColumnAgg assigns reducers to one column.
type ColumnAgg struct {
	Column   string
	Reducers []Reducer

	// List marks the reducers as a sequence, even when it holds a single
	// entry. Any list in a spec switches every output label to a
	// (column, reducer) pair.
	List bool
}

// AggSpec selects how non-key columns are aggregated. The zero value keeps
// the first non-missing value of every column.
type AggSpec struct {
	// All applies one reducer to every non-geometry, non-key column.
	All *Reducer

	// Columns maps named columns to reducers, in output order. Columns
	// not listed are dropped.
	Columns []ColumnAgg
}

// ForAll applies r to every column.
func ForAll(r Reducer) AggSpec {
	return AggSpec{All: &r}
}

// PerColumn builds a per-column spec.
func PerColumn(cols ...ColumnAgg) AggSpec {
	return AggSpec{Columns: cols}
}

// Col assigns a single reducer to a column.
func Col(name string, r Reducer) ColumnAgg {
	return ColumnAgg{Column: name, Reducers: []Reducer{r}}
}

// ColList assigns a sequence of reducers to a column.
func ColList(name string, rs ...Reducer) ColumnAgg {
	return ColumnAgg{Column: name, Reducers: rs, List: true}
}

// IsDefault reports whether no aggregation was requested.
func (s AggSpec) IsDefault() bool {
	return s.All == nil && len(s.Columns) == 0
}

// HasLists reports whether output labels become (column, reducer) pairs.
func (s AggSpec) HasLists() bool {
	for _, c := range s.Columns {
		if c.List {
			return true
		}
	}
	return false
}

// Validate checks the spec's shape. Column existence is checked by the
// caller against the table.
func (s AggSpec) Validate() error {
	if s.All != nil && len(s.Columns) > 0 {
		return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
			"aggfunc cannot be both a single reducer and a column mapping")
	}
	if s.All != nil {
		if err := s.All.Check(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Column == "" {
			return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				"aggfunc mapping has an empty column name")
		}
		if _, dup := seen[c.Column]; dup {
			return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				fmt.Sprintf("column %q appears more than once in aggfunc", c.Column))
		}
		seen[c.Column] = struct{}{}
		if len(c.Reducers) == 0 {
			return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				fmt.Sprintf("no reducers given for column %q", c.Column))
		}
		labels := make(map[string]struct{}, len(c.Reducers))
		for _, r := range c.Reducers {
			if err := r.Check(); err != nil {
				return err
			}
			if _, dup := labels[r.Name()]; dup {
				return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
					fmt.Sprintf("function names must be unique, found multiple named %s for column %q", r.Name(), c.Column))
			}
			labels[r.Name()] = struct{}{}
		}
	}
	return nil
}

// String renders the spec in the form accepted by ParseAggSpec.
func (s AggSpec) String() string {
	if s.All != nil {
		return s.All.Name()
	}
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names := make([]string, len(c.Reducers))
		for j, r := range c.Reducers {
			names[j] = r.Name()
		}
		rhs := strings.Join(names, "+")
		if c.List && len(names) == 1 {
			rhs = "[" + rhs + "]"
		}
		parts[i] = c.Column + "=" + rhs
	}
	return strings.Join(parts, ",")
}

// ParseAggSpec parses the textual aggregation syntax:
//
//	""                    first value of every column
//	"mean"                one reducer for every column
//	"pop=sum,name=first"  one reducer per column
//	"pop=min+max"         several reducers for a column
//	"pop=[sum]"           a one-element reducer list
func ParseAggSpec(text string) (AggSpec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return AggSpec{}, nil
	}
	if !strings.Contains(text, "=") {
		r, err := ParseReducer(text)
		if err != nil {
			return AggSpec{}, err
		}
		return ForAll(r), nil
	}

	var spec AggSpec
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rhs, ok := strings.Cut(part, "=")
		name, rhs = strings.TrimSpace(name), strings.TrimSpace(rhs)
		if !ok || name == "" || rhs == "" {
			return AggSpec{}, dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				fmt.Sprintf("malformed aggregation %q, want column=reducer", part))
		}
		list := false
		if strings.HasPrefix(rhs, "[") && strings.HasSuffix(rhs, "]") {
			list = true
			rhs = rhs[1 : len(rhs)-1]
		}
		names := strings.Split(rhs, "+")
		if len(names) > 1 {
			list = true
		}
		reducers := make([]Reducer, 0, len(names))
		for _, n := range names {
			r, err := ParseReducer(n)
			if err != nil {
				return AggSpec{}, err
			}
			reducers = append(reducers, r)
		}
		spec.Columns = append(spec.Columns, ColumnAgg{Column: name, Reducers: reducers, List: list})
	}
	return spec, spec.Validate()
}
