package dissolve

import (
	"fmt"

	"github.com/arkilian/dissolve/internal/aggregator"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// plannedColumn is one aggregate output column, resolved once before any
// group is processed.
type plannedColumn struct {
	src     *types.Column
	label   types.Label
	reducer aggregator.Reducer
}

// planColumns resolves the aggregate output columns in output order.
func planColumns(t *types.Table, opts Options) ([]plannedColumn, error) {
	keys := make(map[string]bool, len(opts.By))
	for _, k := range opts.By {
		keys[k] = true
	}
	candidates := make([]*types.Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name() == t.Geometry || keys[c.Name()] {
			continue
		}
		candidates = append(candidates, c)
	}

	spec := opts.AggFunc
	switch {
	case spec.IsDefault():
		plan := make([]plannedColumn, len(candidates))
		for i, c := range candidates {
			plan[i] = plannedColumn{src: c, label: c.Label, reducer: aggregator.Named(aggregator.ReduceFirst)}
		}
		return plan, nil

	case spec.All != nil:
		plan := make([]plannedColumn, 0, len(candidates))
		for _, c := range candidates {
			if opts.NumericOnly && !isNumericColumn(c) {
				continue
			}
			plan = append(plan, plannedColumn{src: c, label: c.Label, reducer: *spec.All})
		}
		return plan, nil
	}

	pairs := spec.HasLists()
	var plan []plannedColumn
	for _, ca := range spec.Columns {
		if ca.Column == t.Geometry || keys[ca.Column] {
			return nil, dserrors.NewValidationError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("column %q cannot be aggregated: it is the geometry or a group key", ca.Column))
		}
		c, ok := t.Column(ca.Column)
		if !ok {
			return nil, dserrors.NewValidationError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("column(s) [%q] do not exist", ca.Column))
		}
		for _, r := range ca.Reducers {
			label := c.Label
			if pairs {
				label = types.PairLabel(c.Name(), r.Name())
			}
			plan = append(plan, plannedColumn{src: c, label: label, reducer: r})
		}
	}
	return plan, nil
}

// isNumericColumn reports whether a column takes part in numeric-only
// aggregation. Untyped columns qualify when every value is numeric.
func isNumericColumn(c *types.Column) bool {
	if c.Kind.IsNumeric() {
		return true
	}
	if c.Kind != types.KindAny {
		return false
	}
	for _, v := range c.Values {
		if types.IsNull(v) {
			continue
		}
		if _, ok := v.(bool); ok {
			continue
		}
		if _, ok := types.ToFloat(v); !ok {
			return false
		}
	}
	return true
}

// buildColumn assembles an output column from per-group results.
func (p plannedColumn) buildColumn(values []any) *types.Column {
	kind := p.reducer.ResultKind(p.src.Kind)
	if kind == types.KindAny {
		kind = types.InferKind(values)
	}
	col := &types.Column{Label: p.label, Kind: kind, Values: values}
	if kind == types.KindCategorical {
		col.Categories = append([]any(nil), p.src.Categories...)
	}
	return col
}
