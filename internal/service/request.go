// Package service turns transport-neutral dissolve requests into engine
// calls. The HTTP and gRPC servers share it.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/arkilian/dissolve/internal/aggregator"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/dissolve"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/pkg/types"
)

// Request is a dissolve request. Exactly one of Table and Input must be
// set.
type Request struct {
	// Table is an inline JSON table document.
	Table json.RawMessage `json:"table,omitempty"`

	// Input is an object path in the configured store, read with Format
	// (or the format implied by its extension).
	Input  string `json:"input,omitempty"`
	Format string `json:"format,omitempty"`

	// Geometry and Categorical shape tables read from CSV or SQLite inputs.
	Geometry    string              `json:"geometry,omitempty"`
	Categorical map[string][]string `json:"categorical,omitempty"`
	SourceTable string              `json:"source_table,omitempty"`

	// Output, if set, stores the result at this object path instead of
	// returning it inline.
	Output       string `json:"output,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`

	// By is a column name or a list of names.
	By any `json:"by,omitempty"`
	// Level is a level position or name, or a list of them.
	Level any `json:"level,omitempty"`

	// AggFunc is a reducer name ("mean"), the textual form accepted by the
	// CLI ("pop=sum,name=first"), an object {column: reducer | [reducers]}
	// whose key order is kept, or a list of {"column", "func"} objects.
	AggFunc json.RawMessage `json:"aggfunc,omitempty"`

	// Options holds as_index, sort, dropna, observed, method, grid_size and
	// numeric_only. Values are weakly typed: "true" and 1 both enable a flag.
	Options map[string]any `json:"options,omitempty"`
}

// RequestOptions are the decoded Options. Nil fields fall back to the
// service defaults.
type RequestOptions struct {
	AsIndex     *bool    `mapstructure:"as_index"`
	Sort        *bool    `mapstructure:"sort"`
	DropNA      *bool    `mapstructure:"dropna"`
	Observed    *bool    `mapstructure:"observed"`
	Method      *string  `mapstructure:"method"`
	GridSize    *float64 `mapstructure:"grid_size"`
	NumericOnly *bool    `mapstructure:"numeric_only"`
}

// Response is the result of a dissolve request.
type Response struct {
	Table     json.RawMessage    `json:"table,omitempty"`
	Output    string             `json:"output,omitempty"`
	Warnings  []dissolve.Warning `json:"warnings"`
	Groups    int                `json:"groups"`
	Cached    bool               `json:"cached,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

func invalid(format string, args ...any) error {
	return dserrors.NewValidationError(dserrors.CodeUnsupportedOption, fmt.Sprintf(format, args...))
}

// DecodeOptions decodes the loosely typed options map.
func DecodeOptions(raw map[string]any) (RequestOptions, error) {
	var out RequestOptions
	if len(raw) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return out, dserrors.NewInternalError("cannot build options decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return out, dserrors.Wrap(dserrors.ErrCategoryValidation, dserrors.CodeUnsupportedOption,
			"invalid options", err)
	}
	return out, nil
}

// Apply resolves the options against defaults into engine options.
func (o RequestOptions) Apply(defaults config.DissolveConfig) (dissolve.Options, error) {
	opts := dissolve.DefaultOptions()
	opts.AsIndex = pick(o.AsIndex, defaults.AsIndex)
	opts.Sort = pick(o.Sort, defaults.Sort)
	opts.DropNA = pick(o.DropNA, defaults.DropNA)
	opts.Observed = pick(o.Observed, defaults.Observed)
	opts.NumericOnly = pick(o.NumericOnly, defaults.NumericOnly)

	method := pick(o.Method, defaults.Method)
	m, err := types.ParseUnionMethod(method)
	if err != nil {
		return opts, dserrors.Wrap(dserrors.ErrCategoryValidation, dserrors.CodeUnsupportedOption,
			fmt.Sprintf("unknown method %q", method), err)
	}
	opts.Method = m

	grid := pick(o.GridSize, defaults.GridSize)
	if grid != 0 {
		opts.GridSize = &grid
	}
	return opts, nil
}

func pick[T any](v *T, def T) T {
	if v != nil {
		return *v
	}
	return def
}

// ParseBy accepts a column name or a list of names.
func ParseBy(v any) ([]string, error) {
	switch by := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{by}, nil
	case []string:
		return by, nil
	case []any:
		out := make([]string, len(by))
		for i, item := range by {
			s, ok := item.(string)
			if !ok {
				return nil, invalid("by[%d] must be a column name, got %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, invalid("by must be a column name or a list of names, got %T", v)
}

// ParseLevel accepts a level position or name, or a list of them.
func ParseLevel(v any) ([]grouper.LevelRef, error) {
	switch lv := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]grouper.LevelRef, len(lv))
		for i, item := range lv {
			ref, err := levelRef(item)
			if err != nil {
				return nil, err
			}
			out[i] = ref
		}
		return out, nil
	}
	ref, err := levelRef(v)
	if err != nil {
		return nil, err
	}
	return []grouper.LevelRef{ref}, nil
}

func levelRef(v any) (grouper.LevelRef, error) {
	switch x := v.(type) {
	case string:
		return grouper.LevelNamed(x), nil
	case int:
		return grouper.LevelAt(x), nil
	case int64:
		return grouper.LevelAt(int(x)), nil
	case float64:
		if x != math.Trunc(x) {
			return grouper.LevelRef{}, invalid("level position must be an integer, got %g", x)
		}
		return grouper.LevelAt(int(x)), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return grouper.LevelRef{}, invalid("level position must be an integer, got %s", x)
		}
		return grouper.LevelAt(int(n)), nil
	}
	return grouper.LevelRef{}, invalid("level must be a position or a name, got %T", v)
}

// ParseAggFunc decodes the aggfunc field.
func ParseAggFunc(raw json.RawMessage) (aggregator.AggSpec, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return aggregator.AggSpec{}, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return aggregator.AggSpec{}, invalid("invalid aggfunc: %v", err)
		}
		return aggregator.ParseAggSpec(s)
	case '{':
		return parseAggObject(trimmed)
	case '[':
		return parseAggList(trimmed)
	}
	return aggregator.AggSpec{}, invalid("aggfunc must be a string, an object or a list")
}

// parseAggObject walks the object token by token so that column order
// follows the document.
func parseAggObject(data []byte) (aggregator.AggSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return aggregator.AggSpec{}, invalid("invalid aggfunc: %v", err)
	}
	var spec aggregator.AggSpec
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return aggregator.AggSpec{}, invalid("invalid aggfunc: %v", err)
		}
		name, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return aggregator.AggSpec{}, invalid("invalid aggfunc for %q: %v", name, err)
		}
		col, err := columnAgg(name, value)
		if err != nil {
			return aggregator.AggSpec{}, err
		}
		spec.Columns = append(spec.Columns, col)
	}
	return spec, spec.Validate()
}

func parseAggList(data []byte) (aggregator.AggSpec, error) {
	var items []struct {
		Column string          `json:"column"`
		Func   json.RawMessage `json:"func"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return aggregator.AggSpec{}, invalid("invalid aggfunc list: %v", err)
	}
	var spec aggregator.AggSpec
	for _, item := range items {
		col, err := columnAgg(item.Column, item.Func)
		if err != nil {
			return aggregator.AggSpec{}, err
		}
		spec.Columns = append(spec.Columns, col)
	}
	return spec, spec.Validate()
}

func columnAgg(name string, value json.RawMessage) (aggregator.ColumnAgg, error) {
	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		r, err := aggregator.ParseReducer(single)
		if err != nil {
			return aggregator.ColumnAgg{}, err
		}
		return aggregator.Col(name, r), nil
	}
	var names []string
	if err := json.Unmarshal(value, &names); err != nil {
		return aggregator.ColumnAgg{}, invalid("aggfunc for %q must be a reducer name or a list of names", name)
	}
	reducers := make([]aggregator.Reducer, len(names))
	for i, n := range names {
		r, err := aggregator.ParseReducer(strings.TrimSpace(n))
		if err != nil {
			return aggregator.ColumnAgg{}, err
		}
		reducers[i] = r
	}
	return aggregator.ColList(name, reducers...), nil
}
