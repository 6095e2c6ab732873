// Package aggregator reduces the values of one column within a group to a
// single scalar, using built-in reducers or caller-supplied functions.
package aggregator

import (
	"fmt"
	"strings"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// ReducerName identifies a built-in reducer.
type ReducerName string

const (
	ReduceFirst   ReducerName = "first"
	ReduceLast    ReducerName = "last"
	ReduceMin     ReducerName = "min"
	ReduceMax     ReducerName = "max"
	ReduceSum     ReducerName = "sum"
	ReduceProd    ReducerName = "prod"
	ReduceMean    ReducerName = "mean"
	ReduceMedian  ReducerName = "median"
	ReduceStd     ReducerName = "std"
	ReduceVar     ReducerName = "var"
	ReduceCount   ReducerName = "count"
	ReduceSize    ReducerName = "size"
	ReduceNUnique ReducerName = "nunique"
)

var builtinReducers = []ReducerName{
	ReduceFirst, ReduceLast, ReduceMin, ReduceMax, ReduceSum, ReduceProd,
	ReduceMean, ReduceMedian, ReduceStd, ReduceVar, ReduceCount, ReduceSize,
	ReduceNUnique,
}

// BuiltinReducers returns the names of all built-in reducers.
func BuiltinReducers() []ReducerName {
	return append([]ReducerName(nil), builtinReducers...)
}

// ParseReducerName converts a reducer name string to a ReducerName.
func ParseReducerName(name string) (ReducerName, error) {
	n := ReducerName(strings.ToLower(strings.TrimSpace(name)))
	switch n {
	case "avg":
		return ReduceMean, nil
	case "nunique", "n_unique":
		return ReduceNUnique, nil
	}
	for _, b := range builtinReducers {
		if b == n {
			return b, nil
		}
	}
	return "", dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
		fmt.Sprintf("unknown aggregate function: %s", name))
}

// Warner receives non-fatal diagnostics raised while reducing.
type Warner interface {
	Warn(msg string)
}

// WarnFunc adapts a function to the Warner interface.
type WarnFunc func(msg string)

// Warn implements Warner.
func (f WarnFunc) Warn(msg string) { f(msg) }

// ReduceFunc is a caller-supplied reducer. It receives the group's values
// for one column, in group order and including missing values, and may
// raise warnings through w.
type ReduceFunc func(values []any, w Warner) (any, error)

// DefaultFuncLabel labels custom reducers registered without a name.
const DefaultFuncLabel = "<lambda>"

// Reducer is either a built-in reducer or a custom function. The zero
// value is the "first" reducer.
type Reducer struct {
	name   ReducerName
	label  string
	fn     ReduceFunc
	custom bool
}

// Named returns the built-in reducer name.
func Named(name ReducerName) Reducer {
	return Reducer{name: name}
}

// Func wraps a custom reducer. label names the reducer in two-level
// output labels. A nil fn is kept as a custom reducer and rejected by
// Check.
func Func(label string, fn ReduceFunc) Reducer {
	if label == "" {
		label = DefaultFuncLabel
	}
	return Reducer{label: label, fn: fn, custom: true}
}

// ParseReducer resolves a reducer name.
func ParseReducer(name string) (Reducer, error) {
	n, err := ParseReducerName(name)
	if err != nil {
		return Reducer{}, err
	}
	return Named(n), nil
}

// IsCustom reports whether the reducer wraps a caller-supplied function.
func (r Reducer) IsCustom() bool {
	return r.custom
}

// Check reports a custom reducer that has no function to call.
func (r Reducer) Check() error {
	if r.custom && r.fn == nil {
		return dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
			fmt.Sprintf("custom reducer %q has no function", r.label))
	}
	return nil
}

// Name returns the reducer's label.
func (r Reducer) Name() string {
	if r.custom {
		return r.label
	}
	if r.name == "" {
		return string(ReduceFirst)
	}
	return string(r.name)
}

func (r Reducer) String() string {
	return r.Name()
}

func (r Reducer) builtin() ReducerName {
	if r.name == "" {
		return ReduceFirst
	}
	return r.name
}

// Reduce collapses values, taken from col, to one scalar. Warnings raised
// by custom reducers are passed to w.
func (r Reducer) Reduce(values []any, col *types.Column, w Warner) (any, error) {
	if r.custom {
		if err := r.Check(); err != nil {
			return nil, err
		}
		if w == nil {
			w = WarnFunc(func(string) {})
		}
		out, err := r.fn(values, w)
		if err != nil {
			return nil, err
		}
		return types.Normalize(out), nil
	}

	agg := NewPartialAggregate(r.builtin(), col)
	for _, v := range values {
		if err := agg.Accumulate(v); err != nil {
			return nil, err
		}
	}
	return agg.Result(), nil
}

// ResultKind returns the kind of the reducer's output for an input column
// of kind k. Custom reducers report KindAny; callers infer from values.
func (r Reducer) ResultKind(k types.Kind) types.Kind {
	if r.custom {
		return types.KindAny
	}
	switch r.builtin() {
	case ReduceFirst, ReduceLast, ReduceMin, ReduceMax:
		return k
	case ReduceCount, ReduceSize, ReduceNUnique:
		return types.KindInt
	case ReduceMean, ReduceMedian, ReduceStd, ReduceVar:
		return types.KindFloat
	case ReduceSum, ReduceProd:
		switch k {
		case types.KindInt, types.KindBool:
			return types.KindInt
		case types.KindFloat:
			return types.KindFloat
		case types.KindString:
			if r.builtin() == ReduceSum {
				return types.KindString
			}
		}
	}
	return types.KindAny
}

// RequiresNumeric reports whether the reducer only accepts numeric input.
func (r Reducer) RequiresNumeric() bool {
	switch r.builtin() {
	case ReduceMean, ReduceMedian, ReduceStd, ReduceVar, ReduceProd:
		return !r.custom
	}
	return false
}
