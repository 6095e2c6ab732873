package types

import (
	"fmt"
	"strings"
)

// Geometry is the minimal view of a geometry value the table model needs.
// Concrete geometries come from the geometry backend.
type Geometry interface {
	IsEmpty() bool
	AsText() string
}

// UnionMethod selects the algorithm used to union the geometries of a group.
type UnionMethod string

const (
	// UnionUnary is a general unary union. Always supported.
	UnionUnary UnionMethod = "unary"
	// UnionCoverage assumes the inputs form a non-overlapping coverage.
	UnionCoverage UnionMethod = "coverage"
	// UnionDisjointSubset unions intersecting subsets separately and
	// combines the disjoint results.
	UnionDisjointSubset UnionMethod = "disjoint_subset"
)

// UnionMethods lists every recognised method.
var UnionMethods = []UnionMethod{UnionUnary, UnionCoverage, UnionDisjointSubset}

// ParseUnionMethod validates a method name. The empty string means unary.
func ParseUnionMethod(name string) (UnionMethod, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return UnionUnary, nil
	}
	for _, m := range UnionMethods {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}
