package dissolve

import (
	"sort"
	"strings"

	"github.com/arkilian/dissolve/pkg/types"
)

// pointSet is a geometry made of distinct points, enough to observe
// which inputs a union received.
type pointSet []string

func pts(coords ...string) pointSet {
	return normalize(coords)
}

func normalize(coords []string) pointSet {
	seen := make(map[string]bool)
	out := pointSet{}
	for _, c := range coords {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (p pointSet) IsEmpty() bool { return len(p) == 0 }

func (p pointSet) AsText() string {
	switch len(p) {
	case 0:
		return "GEOMETRYCOLLECTION EMPTY"
	case 1:
		return "POINT (" + p[0] + ")"
	}
	return "MULTIPOINT (" + strings.Join(p, ", ") + ")"
}

type unionCall struct {
	inputs   int
	gridSize float64
	method   types.UnionMethod
}

// fakeUnioner unions point sets by set union.
type fakeUnioner struct {
	unsupported map[types.UnionMethod]bool
	calls       []unionCall
	err         error
}

func (f *fakeUnioner) Supports(m types.UnionMethod) bool {
	return !f.unsupported[m]
}

func (f *fakeUnioner) Union(geoms []types.Geometry, gridSize float64, method types.UnionMethod) (types.Geometry, error) {
	f.calls = append(f.calls, unionCall{inputs: len(geoms), gridSize: gridSize, method: method})
	if f.err != nil {
		return nil, f.err
	}
	var all []string
	for _, g := range geoms {
		if g == nil || g.IsEmpty() {
			continue
		}
		all = append(all, g.(pointSet)...)
	}
	return normalize(all), nil
}
