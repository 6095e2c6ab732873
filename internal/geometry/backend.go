// Package geometry provides the planar union backend used by dissolve,
// built on simplefeatures.
package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// Backend unions groups of geometries.
type Backend struct {
	methods map[types.UnionMethod]bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithMethods restricts the union methods the backend reports as
// supported. Unary is always supported.
func WithMethods(methods ...types.UnionMethod) Option {
	return func(b *Backend) {
		b.methods = map[types.UnionMethod]bool{types.UnionUnary: true}
		for _, m := range methods {
			b.methods[m] = true
		}
	}
}

// NewBackend creates a backend supporting every union method.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{methods: make(map[types.UnionMethod]bool)}
	for _, m := range types.UnionMethods {
		b.methods[m] = true
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Supports reports whether the method is available.
func (b *Backend) Supports(method types.UnionMethod) bool {
	return b.methods[method]
}

// Union merges geoms into one geometry. Missing and empty inputs are
// ignored; if nothing remains the empty geometry collection is returned.
// A positive gridSize snap-rounds the inputs to that grid before the
// overlay and rounds the result onto it.
func (b *Backend) Union(geoms []types.Geometry, gridSize float64, method types.UnionMethod) (types.Geometry, error) {
	if method == "" {
		method = types.UnionUnary
	}
	if !b.Supports(method) {
		return nil, dserrors.NewValidationError(dserrors.CodeCapabilityMismatch,
			fmt.Sprintf("union method %q is not supported by this backend", method))
	}

	inputs, err := prepare(geoms)
	if err != nil {
		return nil, err
	}
	if gridSize > 0 {
		if inputs, err = snapRound(inputs, gridSize); err != nil {
			return nil, dserrors.NewGeometryError(dserrors.CodeUnionFailed, "grid snapping failed", err)
		}
	}
	if len(inputs) == 0 {
		return geom.Geometry{}, nil
	}

	var out geom.Geometry
	switch method {
	case types.UnionDisjointSubset:
		out, err = unionDisjointSubsets(inputs)
	default:
		out, err = geom.UnionMany(inputs)
	}
	if err != nil {
		return nil, dserrors.NewGeometryError(dserrors.CodeUnionFailed, "union failed", err)
	}

	if gridSize > 0 {
		// Crossings between snapped segments can still land off the grid.
		out = out.TransformXY(newGridSnapper(gridSize).round)
		if err := out.Validate(); err != nil {
			return nil, dserrors.NewGeometryError(dserrors.CodeUnionFailed,
				fmt.Sprintf("union result is invalid on grid %v", gridSize), err)
		}
	}
	return out, nil
}

// prepare drops missing and empty inputs.
func prepare(geoms []types.Geometry) ([]geom.Geometry, error) {
	out := make([]geom.Geometry, 0, len(geoms))
	for _, g := range geoms {
		if types.IsNull(g) || g.IsEmpty() {
			continue
		}
		sf, err := toGeom(g)
		if err != nil {
			return nil, dserrors.NewGeometryError(dserrors.CodeInvalidWKT, "cannot convert geometry", err)
		}
		out = append(out, sf)
	}
	return out, nil
}

// unionDisjointSubsets unions each connected subset of mutually
// intersecting inputs separately, then combines the disjoint results.
func unionDisjointSubsets(geoms []geom.Geometry) (geom.Geometry, error) {
	parent := make([]int, len(geoms))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range geoms {
		for j := i + 1; j < len(geoms); j++ {
			if find(i) != find(j) && geom.Intersects(geoms[i], geoms[j]) {
				parent[find(j)] = find(i)
			}
		}
	}

	var order []int
	subsets := make(map[int][]geom.Geometry)
	for i, g := range geoms {
		root := find(i)
		if _, ok := subsets[root]; !ok {
			order = append(order, root)
		}
		subsets[root] = append(subsets[root], g)
	}

	parts := make([]geom.Geometry, 0, len(order))
	for _, root := range order {
		u, err := geom.UnionMany(subsets[root])
		if err != nil {
			return geom.Geometry{}, err
		}
		parts = append(parts, u)
	}
	return geom.UnionMany(parts)
}
