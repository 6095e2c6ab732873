package geometry

import (
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// ParseWKT parses a WKT string into a geometry value. The empty string
// parses to a missing geometry (nil).
func ParseWKT(text string) (types.Geometry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	g, err := geom.UnmarshalWKT(text)
	if err != nil {
		return nil, dserrors.NewGeometryError(dserrors.CodeInvalidWKT, "cannot parse WKT", err)
	}
	return g, nil
}

// FormatWKT renders a geometry as WKT. Missing geometries render as "".
func FormatWKT(g types.Geometry) string {
	if g == nil {
		return ""
	}
	return g.AsText()
}

// Empty returns the empty geometry collection.
func Empty() types.Geometry {
	return geom.Geometry{}
}

// toGeom converts any types.Geometry to a simplefeatures geometry.
func toGeom(g types.Geometry) (geom.Geometry, error) {
	if sf, ok := g.(geom.Geometry); ok {
		return sf, nil
	}
	return geom.UnmarshalWKT(g.AsText())
}
