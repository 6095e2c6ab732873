// Package dissolve merges the geometries of grouped rows and aggregates
// their attributes, one output row per group.
package dissolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/arkilian/dissolve/internal/aggregator"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/internal/logging"
	"github.com/arkilian/dissolve/pkg/types"
)

// Unioner merges a group's geometries. Missing and empty entries must be
// neutral, and the result must be deterministic for a given input order.
type Unioner interface {
	Union(geoms []types.Geometry, gridSize float64, method types.UnionMethod) (types.Geometry, error)
	Supports(method types.UnionMethod) bool
}

// Engine runs dissolves against a Unioner and a Grouper.
type Engine struct {
	unioner Unioner
	grouper grouper.Grouper
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGrouper replaces the default hash grouper.
func WithGrouper(g grouper.Grouper) Option {
	return func(e *Engine) { e.grouper = g }
}

// WithLogger sets the logger used for warnings and progress.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine that merges geometries with u.
func New(u Unioner, opts ...Option) *Engine {
	e := &Engine{
		unioner: u,
		grouper: grouper.NewHashGrouper(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dissolve groups t according to opts, unions each group's geometries and
// aggregates the remaining columns. A failure in any group aborts the
// whole operation and no partial result is returned.
func (e *Engine) Dissolve(ctx context.Context, t *types.Table, opts Options) (*Result, error) {
	method, err := e.validate(t, opts)
	if err != nil {
		return nil, err
	}

	sess := &session{engine: e, opts: opts}

	if !opts.DropNA {
		if nk, ok := e.grouper.(grouper.NullKeyCapable); !ok || !nk.SupportsNullKeys() {
			sess.warn(Warning{
				Source:  SourceEngine,
				Message: "dropna=False is not supported by the grouping backend; rows with missing keys are dropped",
			})
		}
	}

	plan, err := planColumns(t, opts)
	if err != nil {
		return nil, err
	}

	partition, err := e.grouper.Group(t, opts.KeySpec(), opts.GrouperOptions())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("grouped rows",
		"rows", t.NumRows(),
		"groups", len(partition.Groups),
		"keys", len(partition.Keys))

	geomCol, _ := t.GeometryColumn()
	merged := make([]any, len(partition.Groups))
	aggregated := make([][]any, len(plan))
	for i := range aggregated {
		aggregated[i] = make([]any, len(partition.Groups))
	}

	for gi, g := range partition.Groups {
		if err := ctx.Err(); err != nil {
			return nil, dserrors.Wrap(dserrors.ErrCategoryInternal, dserrors.CodeCanceled, "dissolve canceled", err)
		}

		geoms := make([]types.Geometry, len(g.Rows))
		for i, r := range g.Rows {
			if v, ok := geomCol.Values[r].(types.Geometry); ok {
				geoms[i] = v
			}
		}
		u, err := e.unioner.Union(geoms, opts.gridSize(), method)
		if err != nil {
			return nil, wrapUnionError(err, g.Key)
		}
		merged[gi] = u

		for pi, pc := range plan {
			values := make([]any, len(g.Rows))
			for i, r := range g.Rows {
				values[i] = pc.src.Values[r]
			}
			out, err := pc.reducer.Reduce(values, pc.src, sess.reducerWarner(pc.label, g.Key))
			if err != nil {
				return nil, wrapReducerError(err, pc, g.Key)
			}
			aggregated[pi][gi] = out
		}
	}

	out, err := assemble(t, partition, plan, merged, aggregated, opts.AsIndex)
	if err != nil {
		return nil, err
	}
	return &Result{Table: out, Warnings: sess.warnings, Groups: len(partition.Groups)}, nil
}

// validate checks options before any grouping work begins.
func (e *Engine) validate(t *types.Table, opts Options) (types.UnionMethod, error) {
	if err := opts.KeySpec().Validate(); err != nil {
		return "", err
	}

	method, err := types.ParseUnionMethod(string(opts.Method))
	if err != nil {
		return "", dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
			fmt.Sprintf("method %q is not supported, use one of %v", opts.Method, types.UnionMethods))
	}
	if !e.unioner.Supports(method) {
		return "", dserrors.NewValidationError(dserrors.CodeCapabilityMismatch,
			fmt.Sprintf("the geometry backend does not provide the %q union method", method))
	}

	if g := opts.gridSize(); g < 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return "", dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
			fmt.Sprintf("grid_size must be a non-negative number, got %v", g))
	}

	if err := opts.AggFunc.Validate(); err != nil {
		return "", err
	}

	if err := t.Validate(); err != nil {
		return "", dserrors.Wrap(dserrors.ErrCategoryValidation, dserrors.CodeInvalidTable, "invalid input table", err)
	}
	return method, nil
}

// assemble builds the result table: geometry first, then aggregates, with
// the group key as index.
func assemble(
	t *types.Table,
	p *grouper.Partition,
	plan []plannedColumn,
	merged []any,
	aggregated [][]any,
	asIndex bool,
) (*types.Table, error) {
	geomCol := &types.Column{
		Label:  types.Label{Name: t.Geometry},
		Kind:   types.KindGeometry,
		Values: merged,
	}
	cols := make([]*types.Column, 0, len(plan)+1)
	cols = append(cols, geomCol)
	for i, pc := range plan {
		cols = append(cols, pc.buildColumn(aggregated[i]))
	}

	out := &types.Table{
		Columns:  cols,
		Index:    types.RangeIndex(),
		Geometry: t.Geometry,
		CRS:      t.CRS,
	}
	if len(p.Keys) > 0 {
		levels := make([]*types.Column, len(p.Keys))
		for i, k := range p.Keys {
			levels[i] = k.Column(i, p.Groups)
		}
		out.Index = types.NewIndex(levels...)
	}

	if !asIndex {
		if err := out.ResetIndex(); err != nil {
			return nil, dserrors.Wrap(dserrors.ErrCategoryValidation, dserrors.CodeUnknownColumn,
				"cannot move group keys into columns", err)
		}
	}
	return out, nil
}

func wrapUnionError(err error, key []any) error {
	var de *dserrors.DissolveError
	if errors.As(err, &de) {
		return err
	}
	return dserrors.NewGeometryError(dserrors.CodeUnionFailed,
		fmt.Sprintf("union failed for group %v", key), err)
}

func wrapReducerError(err error, pc plannedColumn, key []any) error {
	if dserrors.GetCode(err) == dserrors.CodeTypeMismatch {
		return err
	}
	return dserrors.NewAggregationError(dserrors.CodeReducerFailed,
		fmt.Sprintf("reducer %s failed on column %s for group %v", pc.reducer.Name(), pc.label, key), err).
		WithDetails(map[string]interface{}{"column": pc.label.String(), "reducer": pc.reducer.Name()})
}

// session carries per-call state.
type session struct {
	engine   *Engine
	opts     Options
	warnings []Warning
}

func (r *session) warn(w Warning) {
	r.warnings = append(r.warnings, w)
	r.engine.logger.Warn("dissolve warning",
		"source", string(w.Source),
		"column", w.Column,
		"message", w.Message)
	if r.opts.OnWarning != nil {
		r.opts.OnWarning(w)
	}
}

func (r *session) reducerWarner(label types.Label, key []any) aggregator.Warner {
	return aggregator.WarnFunc(func(msg string) {
		r.warn(Warning{
			Source:  SourceReducer,
			Column:  label.String(),
			Key:     append([]any(nil), key...),
			Message: msg,
		})
	})
}
